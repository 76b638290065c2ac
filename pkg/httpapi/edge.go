package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/burrowdev/burrow/pkg/docstore"
	"github.com/burrowdev/burrow/pkg/objectstore"
	"github.com/burrowdev/burrow/pkg/provider"
	"github.com/burrowdev/burrow/pkg/queue"
	"github.com/burrowdev/burrow/pkg/workflow"
)

// EdgeConfig names the providers the edge router serves. Nil providers
// are simply not mounted.
type EdgeConfig struct {
	ObjectStore *objectstore.Provider
	DocStore    *docstore.Provider
	Queue       *queue.Provider
	Workflow    *workflow.Provider

	// QueueBaseURL prefixes the queue URLs handed to clients,
	// e.g. http://localhost:4560/sqs.
	QueueBaseURL string
}

// NewEdgeRouter assembles the single-port edge: every service under its
// own path prefix, all actions routed through one shared table.
func NewEdgeRouter(cfg EdgeConfig) http.Handler {
	table := NewTable()
	r := chi.NewRouter()

	if cfg.ObjectStore != nil {
		r.Mount("/s3", NewObjectStoreHandler(cfg.ObjectStore.Store(), cfg.ObjectStore.Signer()))
	}
	if cfg.DocStore != nil {
		BindDocStore(table, cfg.DocStore.Store())
		r.Post("/dynamodb", wrap(TypedJSONHandler(table, provider.ServiceDocStore)))
	}
	if cfg.Workflow != nil {
		BindWorkflow(table, cfg.Workflow)
		r.Post("/states", wrap(TypedJSONHandler(table, provider.ServiceWorkflow)))
	}
	if cfg.Queue != nil {
		BindQueue(table, cfg.Queue, cfg.QueueBaseURL)
		typed := TypedJSONHandler(table, provider.ServiceQueue)
		form := FormHandler(table, provider.ServiceQueue)
		pick := func(w http.ResponseWriter, req *http.Request) {
			// the typed dialect always carries an X-Amz-Target header
			if req.Header.Get("X-Amz-Target") != "" {
				typed.ServeHTTP(w, req)
				return
			}
			form.ServeHTTP(w, req)
		}
		r.Post("/sqs", pick)
		// form-dialect clients post to the queue URL itself
		r.Post("/sqs/{queue}", pick)
	}
	return r
}

func wrap(h http.Handler) http.HandlerFunc {
	return h.ServeHTTP
}
