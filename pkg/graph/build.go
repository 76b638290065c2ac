package graph

import (
	"fmt"

	"github.com/burrowdev/burrow/pkg/config"
)

// Node id prefixes, one per resource kind, so names cannot collide across
// kinds.
func FunctionID(name string) string     { return "fn/" + name }
func TableID(name string) string        { return "table/" + name }
func QueueID(name string) string        { return "queue/" + name }
func BucketID(name string) string       { return "bucket/" + name }
func TopicID(name string) string        { return "topic/" + name }
func BusID(name string) string          { return "bus/" + name }
func WorkflowID(name string) string     { return "workflow/" + name }
func RouteSetID(name string) string     { return "routes/" + name }
func ContainerSvcID(name string) string { return "svc/" + name }

// Build ingests a parsed deployment model and produces the resource graph.
// Relationship inference is best-effort name matching; references that
// match no declared resource are dropped silently (the model validator
// reports them separately).
func Build(model *config.Model) (*Graph, error) {
	g := New()

	for _, t := range model.Tables {
		if err := g.AddNode(&Node{ID: TableID(t.Name), Kind: KindTable, Config: map[string]string{"name": t.Name}}); err != nil {
			return nil, err
		}
	}
	for _, q := range model.Queues {
		if err := g.AddNode(&Node{ID: QueueID(q.Name), Kind: KindQueue, Config: map[string]string{"name": q.Name}}); err != nil {
			return nil, err
		}
	}
	for _, b := range model.Buckets {
		if err := g.AddNode(&Node{ID: BucketID(b.Name), Kind: KindBucket, Config: map[string]string{"name": b.Name}}); err != nil {
			return nil, err
		}
	}
	for _, tp := range model.Topics {
		if err := g.AddNode(&Node{ID: TopicID(tp.Name), Kind: KindTopic, Config: map[string]string{"name": tp.Name}}); err != nil {
			return nil, err
		}
	}
	for _, b := range model.Buses {
		if err := g.AddNode(&Node{ID: BusID(b.Name), Kind: KindEventBus, Config: map[string]string{"name": b.Name}}); err != nil {
			return nil, err
		}
	}
	for _, fn := range model.Functions {
		if err := g.AddNode(&Node{ID: FunctionID(fn.Name), Kind: KindFunction, Config: map[string]string{"name": fn.Name}}); err != nil {
			return nil, err
		}
	}
	for _, sm := range model.Machines {
		if err := g.AddNode(&Node{ID: WorkflowID(sm.Name), Kind: KindWorkflow, Config: map[string]string{"name": sm.Name}}); err != nil {
			return nil, err
		}
	}
	for _, r := range model.Routes {
		if err := g.AddNode(&Node{ID: RouteSetID(r.Name), Kind: KindRouteSet, Config: map[string]string{"name": r.Name, "path": r.Path}}); err != nil {
			return nil, err
		}
	}
	for _, svc := range model.Services {
		if err := g.AddNode(&Node{ID: ContainerSvcID(svc.Name), Kind: KindContainerSvc, Config: map[string]string{"name": svc.Name, "image": svc.Image}}); err != nil {
			return nil, err
		}
	}

	// Names declared by the model, for reference matching.
	tables := nameSet(model.Tables, func(t config.TableDef) string { return t.Name })
	queues := nameSet(model.Queues, func(q config.QueueDef) string { return q.Name })
	buckets := nameSet(model.Buckets, func(b config.BucketDef) string { return b.Name })
	topics := nameSet(model.Topics, func(t config.TopicDef) string { return t.Name })
	functions := nameSet(model.Functions, func(f config.FunctionDef) string { return f.Name })

	addEdge := func(e Edge) error {
		if err := g.AddEdge(e); err != nil {
			return fmt.Errorf("model wiring: %w", err)
		}
		return nil
	}

	for _, fn := range model.Functions {
		fnID := FunctionID(fn.Name)

		// Env values that name a declared resource become data
		// dependencies of the function.
		for envKey, envVal := range fn.Environment {
			var target string
			switch {
			case tables[envVal]:
				target = TableID(envVal)
			case queues[envVal]:
				target = QueueID(envVal)
			case buckets[envVal]:
				target = BucketID(envVal)
			case topics[envVal]:
				target = TopicID(envVal)
			default:
				continue
			}
			if err := addEdge(Edge{Source: fnID, Target: target, Kind: EdgeDataDep, Metadata: map[string]string{"env": envKey}}); err != nil {
				return nil, err
			}
		}

		for _, src := range fn.Events {
			switch {
			case src.Queue != "" && queues[src.Queue]:
				if err := addEdge(Edge{Source: fnID, Target: QueueID(src.Queue), Kind: EdgeEventSource}); err != nil {
					return nil, err
				}
			case src.Stream != "" && tables[src.Stream]:
				if err := addEdge(Edge{Source: fnID, Target: TableID(src.Stream), Kind: EdgeEventSource}); err != nil {
					return nil, err
				}
			}
		}
	}

	for _, q := range model.Queues {
		if q.Redrive != nil && queues[q.Redrive.DeadLetter] {
			if err := addEdge(Edge{Source: QueueID(q.Name), Target: QueueID(q.Redrive.DeadLetter), Kind: EdgeDataDep, Metadata: map[string]string{"role": "dead-letter"}}); err != nil {
				return nil, err
			}
		}
	}

	for _, b := range model.Buckets {
		for _, n := range b.Notifications {
			if functions[n.Function] {
				if err := addEdge(Edge{Source: BucketID(b.Name), Target: FunctionID(n.Function), Kind: EdgeTrigger, Metadata: map[string]string{"events": n.Events}}); err != nil {
					return nil, err
				}
			}
		}
	}

	for _, tp := range model.Topics {
		for _, sub := range tp.Subscriptions {
			switch sub.Protocol {
			case "lambda":
				if functions[sub.Endpoint] {
					if err := addEdge(Edge{Source: TopicID(tp.Name), Target: FunctionID(sub.Endpoint), Kind: EdgeTrigger}); err != nil {
						return nil, err
					}
				}
			case "sqs":
				if queues[sub.Endpoint] {
					if err := addEdge(Edge{Source: TopicID(tp.Name), Target: QueueID(sub.Endpoint), Kind: EdgeTrigger}); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	for _, bus := range model.Buses {
		for _, rule := range bus.Rules {
			for _, tgt := range rule.Targets {
				switch {
				case tgt.Function != "" && functions[tgt.Function]:
					if err := addEdge(Edge{Source: BusID(bus.Name), Target: FunctionID(tgt.Function), Kind: EdgeTrigger, Metadata: map[string]string{"rule": rule.Name}}); err != nil {
						return nil, err
					}
				case tgt.Queue != "" && queues[tgt.Queue]:
					if err := addEdge(Edge{Source: BusID(bus.Name), Target: QueueID(tgt.Queue), Kind: EdgeTrigger, Metadata: map[string]string{"rule": rule.Name}}); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	for _, r := range model.Routes {
		if functions[r.Function] {
			if err := addEdge(Edge{Source: RouteSetID(r.Name), Target: FunctionID(r.Function), Kind: EdgeTrigger, Metadata: map[string]string{"path": r.Path}}); err != nil {
				return nil, err
			}
		}
	}

	return g, nil
}

func nameSet[T any](defs []T, name func(T) string) map[string]bool {
	set := make(map[string]bool, len(defs))
	for _, def := range defs {
		set[name(def)] = true
	}
	return set
}
