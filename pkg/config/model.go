package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Model is the parsed deployment model: every resource the emulator hosts
// and the cross-wiring between them. It is loaded once at boot; edits to
// the file afterwards require a restart (see Watcher).
type Model struct {
	Version   int               `yaml:"version" validate:"required,eq=1"`
	Functions []FunctionDef     `yaml:"functions" validate:"dive"`
	Tables    []TableDef        `yaml:"tables" validate:"dive"`
	Queues    []QueueDef        `yaml:"queues" validate:"dive"`
	Buckets   []BucketDef       `yaml:"buckets" validate:"dive"`
	Topics    []TopicDef        `yaml:"topics" validate:"dive"`
	Buses     []BusDef          `yaml:"buses" validate:"dive"`
	Machines  []StateMachineDef `yaml:"stateMachines" validate:"dive"`
	Routes    []RouteDef        `yaml:"routes" validate:"dive"`
	Services  []ContainerSvcDef `yaml:"services" validate:"dive"`
}

// FunctionDef declares a compute function plus its event sources.
type FunctionDef struct {
	Name        string            `yaml:"name" validate:"required"`
	Runtime     string            `yaml:"runtime" validate:"omitempty,oneof=inprocess http"`
	Endpoint    string            `yaml:"endpoint"` // http runtime only
	MemoryMB    int               `yaml:"memoryMB" validate:"omitempty,min=64,max=10240"`
	TimeoutSec  int               `yaml:"timeoutSec" validate:"omitempty,min=1,max=900"`
	Environment map[string]string `yaml:"environment"`
	Events      []EventSourceDef  `yaml:"events" validate:"dive"`
}

// EventSourceDef wires a queue or table stream into a function.
type EventSourceDef struct {
	Queue     string `yaml:"queue"`
	Stream    string `yaml:"stream"` // table name
	BatchSize int    `yaml:"batchSize" validate:"omitempty,min=1,max=1000"`
}

// KeyAttrDef names one key attribute and its type.
type KeyAttrDef struct {
	Name string `yaml:"name" validate:"required"`
	Type string `yaml:"type" validate:"required,oneof=S N B"`
}

// GSIDef declares a global secondary index on a table.
type GSIDef struct {
	Name         string      `yaml:"name" validate:"required"`
	PartitionKey KeyAttrDef  `yaml:"partitionKey" validate:"required"`
	SortKey      *KeyAttrDef `yaml:"sortKey"`
}

// StreamDef enables the change stream on a table.
type StreamDef struct {
	View string `yaml:"view" validate:"required,oneof=keys-only new-image old-image new-and-old"`
}

// TableDef declares a document-store table.
type TableDef struct {
	Name         string      `yaml:"name" validate:"required"`
	PartitionKey KeyAttrDef  `yaml:"partitionKey" validate:"required"`
	SortKey      *KeyAttrDef `yaml:"sortKey"`
	GSIs         []GSIDef    `yaml:"gsis" validate:"dive"`
	Stream       *StreamDef  `yaml:"stream"`
}

// RedriveDef moves poisoned messages to a dead-letter queue.
type RedriveDef struct {
	DeadLetter      string `yaml:"deadLetter" validate:"required"`
	MaxReceiveCount int    `yaml:"maxReceiveCount" validate:"required,min=1"`
}

// QueueDef declares a queue.
type QueueDef struct {
	Name              string      `yaml:"name" validate:"required"`
	FIFO              bool        `yaml:"fifo"`
	VisibilityTimeout int         `yaml:"visibilityTimeout" validate:"omitempty,min=0,max=43200"`
	DelaySeconds      int         `yaml:"delaySeconds" validate:"omitempty,min=0,max=900"`
	Redrive           *RedriveDef `yaml:"redrive"`
}

// NotificationDef binds object events to a compute function.
type NotificationDef struct {
	Events   string `yaml:"events" validate:"required"` // e.g. ObjectCreated:*
	Prefix   string `yaml:"prefix"`
	Suffix   string `yaml:"suffix"`
	Function string `yaml:"function" validate:"required"`
}

// BucketDef declares an object-store bucket.
type BucketDef struct {
	Name          string            `yaml:"name" validate:"required"`
	Notifications []NotificationDef `yaml:"notifications" validate:"dive"`
}

// SubscriptionDef subscribes a function or queue to a topic.
type SubscriptionDef struct {
	Protocol     string              `yaml:"protocol" validate:"required,oneof=lambda sqs"`
	Endpoint     string              `yaml:"endpoint" validate:"required"`
	RawDelivery  bool                `yaml:"rawDelivery"`
	FilterPolicy map[string][]string `yaml:"filterPolicy"`
}

// TopicDef declares a pub/sub topic.
type TopicDef struct {
	Name          string            `yaml:"name" validate:"required"`
	Subscriptions []SubscriptionDef `yaml:"subscriptions" validate:"dive"`
}

// RuleTargetDef is one event-bus rule target.
type RuleTargetDef struct {
	Function string `yaml:"function"`
	Queue    string `yaml:"queue"`
}

// RuleDef is an event-bus rule: either a pattern or a schedule.
type RuleDef struct {
	Name     string              `yaml:"name" validate:"required"`
	Pattern  map[string][]string `yaml:"pattern"`
	Schedule string              `yaml:"schedule"` // rate(...) or cron(...)
	Targets  []RuleTargetDef     `yaml:"targets" validate:"required,min=1,dive"`
}

// BusDef declares an event bus.
type BusDef struct {
	Name  string    `yaml:"name" validate:"required"`
	Rules []RuleDef `yaml:"rules" validate:"dive"`
}

// StateMachineDef declares a workflow. The definition is the ASL JSON
// document, inline or in a sibling file.
type StateMachineDef struct {
	Name           string `yaml:"name" validate:"required"`
	Type           string `yaml:"type" validate:"omitempty,oneof=standard express"`
	Definition     string `yaml:"definition"`
	DefinitionFile string `yaml:"definitionFile"`
}

// RouteDef maps an HTTP route onto a function.
type RouteDef struct {
	Name     string `yaml:"name" validate:"required"`
	Path     string `yaml:"path" validate:"required"`
	Method   string `yaml:"method" validate:"omitempty,oneof=GET POST PUT DELETE ANY"`
	Function string `yaml:"function" validate:"required"`
}

// ContainerSvcDef declares a long-running service container.
type ContainerSvcDef struct {
	Name     string            `yaml:"name" validate:"required"`
	Image    string            `yaml:"image" validate:"required"`
	Replicas int               `yaml:"replicas" validate:"omitempty,min=0,max=32"`
	Env      map[string]string `yaml:"env"`
	Port     int               `yaml:"port" validate:"omitempty,min=1,max=65535"`
}

var validate = validator.New()

// LoadModel reads and validates a deployment model from a YAML file.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	return ParseModel(data)
}

// ParseModel parses and validates a deployment model document.
func ParseModel(data []byte) (*Model, error) {
	var model Model
	if err := yaml.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}

	if err := validate.Struct(&model); err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}

	for _, fn := range model.Functions {
		for _, src := range fn.Events {
			if (src.Queue == "") == (src.Stream == "") {
				return nil, fmt.Errorf("invalid model: function %s event source needs exactly one of queue or stream", fn.Name)
			}
		}
	}
	for _, rule := range rulesOf(model.Buses) {
		if (len(rule.Pattern) == 0) == (rule.Schedule == "") {
			return nil, fmt.Errorf("invalid model: rule %s needs exactly one of pattern or schedule", rule.Name)
		}
		for _, tgt := range rule.Targets {
			if (tgt.Function == "") == (tgt.Queue == "") {
				return nil, fmt.Errorf("invalid model: rule %s target needs exactly one of function or queue", rule.Name)
			}
		}
	}
	for _, sm := range model.Machines {
		if (sm.Definition == "") == (sm.DefinitionFile == "") {
			return nil, fmt.Errorf("invalid model: state machine %s needs exactly one of definition or definitionFile", sm.Name)
		}
	}

	return &model, nil
}

func rulesOf(buses []BusDef) []RuleDef {
	var rules []RuleDef
	for _, bus := range buses {
		rules = append(rules, bus.Rules...)
	}
	return rules
}
