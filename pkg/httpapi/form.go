package httpapi

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// FormHandler serves the form-action dialect for one service: the
// action rides in the Action parameter, the remaining flattened
// parameters become the same input document the typed-JSON dialect
// sends, and the response is <ActionResponse> XML.
func FormHandler(table *Table, service string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeFormError(w, apiErrorf(http.StatusBadRequest, "InvalidRequest", "parsing form: %v", err))
			return
		}

		// query and body parameters are interchangeable in this dialect
		params := url.Values{}
		for k, vs := range r.Form {
			params[k] = vs
		}
		action := params.Get("Action")
		if action == "" {
			writeFormError(w, apiErrorf(http.StatusBadRequest, "MissingAction", "missing Action parameter"))
			return
		}
		params.Del("Action")
		params.Del("Version")

		input, err := formToJSON(params)
		if err != nil {
			writeFormError(w, apiErrorf(http.StatusBadRequest, "InvalidParameterValue", "%v", err))
			return
		}

		out, err := table.Invoke(r.Context(), service, action, input)
		if err != nil {
			writeFormError(w, asAPIError(err))
			return
		}

		body, err := formResponseXML(action, out)
		if err != nil {
			writeFormError(w, apiErrorf(http.StatusInternalServerError, "InternalFailure", "encoding response: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	})
}

// formToJSON rebuilds the nested input document from flattened form
// keys: dots descend into objects and 1-based numeric segments build
// lists, so Entry.1.Id=a becomes {"Entry":[{"Id":"a"}]}.
func formToJSON(params url.Values) (json.RawMessage, error) {
	root := map[string]any{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := setFlattened(root, strings.Split(key, "."), params.Get(key)); err != nil {
			return nil, fmt.Errorf("parameter %s: %w", key, err)
		}
	}
	return json.Marshal(root)
}

func setFlattened(node map[string]any, segments []string, value string) error {
	name := segments[0]
	rest := segments[1:]

	if len(rest) == 0 {
		node[name] = value
		return nil
	}

	// a numeric next segment means this name holds a list
	if idx, err := strconv.Atoi(rest[0]); err == nil {
		if idx < 1 {
			return fmt.Errorf("list indices are 1-based")
		}
		list, _ := node[name].([]any)
		for len(list) < idx {
			list = append(list, map[string]any{})
		}
		node[name] = list

		if len(rest) == 1 {
			list[idx-1] = value
			return nil
		}
		child, ok := list[idx-1].(map[string]any)
		if !ok {
			return fmt.Errorf("mixed scalar and object at index %d", idx)
		}
		return setFlattened(child, rest[1:], value)
	}

	child, ok := node[name].(map[string]any)
	if !ok {
		if node[name] != nil {
			return fmt.Errorf("mixed scalar and object under %s", name)
		}
		child = map[string]any{}
		node[name] = child
	}
	return setFlattened(child, rest, value)
}

// formResponseXML renders a handler result as
// <ActionResponse><ActionResult>...</ActionResult>...</ActionResponse>
// with the result's JSON shape mapped to elements.
func formResponseXML(action string, out any) ([]byte, error) {
	var buf strings.Builder
	buf.WriteString(xml.Header)
	fmt.Fprintf(&buf, "<%sResponse>", action)
	if out != nil {
		fmt.Fprintf(&buf, "<%sResult>", action)
		if err := writeXMLValue(&buf, out); err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "</%sResult>", action)
	}
	fmt.Fprintf(&buf, "<ResponseMetadata><RequestId>%s</RequestId></ResponseMetadata>", uuid.NewString())
	fmt.Fprintf(&buf, "</%sResponse>", action)
	return []byte(buf.String()), nil
}

// writeXMLValue maps a result's JSON shape onto elements: object keys
// become tags, list members repeat their parent's member tag.
func writeXMLValue(buf *strings.Builder, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	writeXMLNode(buf, doc)
	return nil
}

func writeXMLNode(buf *strings.Builder, node any) {
	switch t := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if list, ok := t[k].([]any); ok {
				for _, member := range list {
					fmt.Fprintf(buf, "<%s>", k)
					writeXMLNode(buf, member)
					fmt.Fprintf(buf, "</%s>", k)
				}
				continue
			}
			fmt.Fprintf(buf, "<%s>", k)
			writeXMLNode(buf, t[k])
			fmt.Fprintf(buf, "</%s>", k)
		}
	case []any:
		for _, member := range t {
			buf.WriteString("<member>")
			writeXMLNode(buf, member)
			buf.WriteString("</member>")
		}
	case nil:
	default:
		xml.EscapeText(buf, []byte(fmt.Sprintf("%v", t)))
	}
}

func writeFormError(w http.ResponseWriter, apiErr *APIError) {
	var buf strings.Builder
	buf.WriteString(xml.Header)
	buf.WriteString("<ErrorResponse><Error><Type>Sender</Type>")
	fmt.Fprintf(&buf, "<Code>%s</Code><Message>", apiErr.Code)
	xml.EscapeText(&buf, []byte(apiErr.Message))
	buf.WriteString("</Message></Error>")
	fmt.Fprintf(&buf, "<RequestId>%s</RequestId></ErrorResponse>", uuid.NewString())

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(apiErr.Status)
	w.Write([]byte(buf.String()))
}
