// Package workproto holds the work service contract shared by the load driver
// and the reference target: the gRPC descriptor (parsed at runtime from the
// embedded work.proto) and the plain Go shape of requests and responses used
// by both the REST and gRPC encodings.
package workproto

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/dynamic"
)

//go:embed work.proto
var source string

const (
	protoFile   = "work.proto"
	ServiceName = "perfdemo.WorkService"
	MethodName  = "GetWork"
	FullMethod  = "/" + ServiceName + "/" + MethodName
)

// Request asks the target for a generated payload of PayloadSize bytes.
type Request struct {
	PayloadSize   int    `json:"payloadSize"`
	CorrelationID string `json:"correlationId"`
}

// Response is the generated payload returned by the target.
type Response struct {
	BigString string            `json:"bigString"`
	Items     []string          `json:"items"`
	Metadata  map[string]string `json:"metadata"`
}

var (
	loadOnce sync.Once
	service  *desc.ServiceDescriptor
	loadErr  error
)

// Service returns the parsed WorkService descriptor.
func Service() (*desc.ServiceDescriptor, error) {
	loadOnce.Do(func() {
		service, loadErr = parseService()
	})
	return service, loadErr
}

func parseService() (*desc.ServiceDescriptor, error) {
	parser := protoparse.Parser{
		Accessor: protoparse.FileContentsFromMap(map[string]string{protoFile: source}),
	}
	files, err := parser.ParseFiles(protoFile)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", protoFile, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no descriptors parsed from %s", protoFile)
	}
	svc := files[0].FindService(ServiceName)
	if svc == nil {
		return nil, fmt.Errorf("service %s not found in %s", ServiceName, protoFile)
	}
	return svc, nil
}

// GetWork returns the descriptor of the single unary method.
func GetWork() (*desc.MethodDescriptor, error) {
	svc, err := Service()
	if err != nil {
		return nil, err
	}
	method := svc.FindMethodByName(MethodName)
	if method == nil {
		return nil, fmt.Errorf("method %s not found in service %s", MethodName, ServiceName)
	}
	return method, nil
}

// Message encodes r as a dynamic WorkRequest.
func (r Request) Message(method *desc.MethodDescriptor) (*dynamic.Message, error) {
	msg := dynamic.NewMessage(method.GetInputType())
	if err := msg.TrySetFieldByName("payload_size", int32(r.PayloadSize)); err != nil {
		return nil, fmt.Errorf("payload_size: %w", err)
	}
	if err := msg.TrySetFieldByName("correlation_id", r.CorrelationID); err != nil {
		return nil, fmt.Errorf("correlation_id: %w", err)
	}
	return msg, nil
}

// RequestFromMessage decodes a dynamic WorkRequest.
func RequestFromMessage(msg *dynamic.Message) (Request, error) {
	var r Request
	raw, err := msg.TryGetFieldByName("payload_size")
	if err != nil {
		return r, fmt.Errorf("payload_size: %w", err)
	}
	if size, ok := raw.(int32); ok {
		r.PayloadSize = int(size)
	}
	raw, err = msg.TryGetFieldByName("correlation_id")
	if err != nil {
		return r, fmt.Errorf("correlation_id: %w", err)
	}
	r.CorrelationID, _ = raw.(string)
	return r, nil
}

// Message encodes r as a dynamic WorkResponse.
func (r Response) Message(method *desc.MethodDescriptor) (*dynamic.Message, error) {
	msg := dynamic.NewMessage(method.GetOutputType())
	if err := msg.TrySetFieldByName("big_string", r.BigString); err != nil {
		return nil, fmt.Errorf("big_string: %w", err)
	}
	if len(r.Items) > 0 {
		if err := msg.TrySetFieldByName("items", r.Items); err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
	}
	for k, v := range r.Metadata {
		if err := msg.TryPutMapFieldByName("metadata", k, v); err != nil {
			return nil, fmt.Errorf("metadata[%s]: %w", k, err)
		}
	}
	return msg, nil
}

// ResponseFromMessage decodes a dynamic WorkResponse.
func ResponseFromMessage(msg *dynamic.Message) (Response, error) {
	var r Response
	raw, err := msg.TryGetFieldByName("big_string")
	if err != nil {
		return r, fmt.Errorf("big_string: %w", err)
	}
	r.BigString, _ = raw.(string)

	raw, err = msg.TryGetFieldByName("items")
	if err != nil {
		return r, fmt.Errorf("items: %w", err)
	}
	if items, ok := raw.([]interface{}); ok {
		r.Items = make([]string, 0, len(items))
		for _, item := range items {
			s, _ := item.(string)
			r.Items = append(r.Items, s)
		}
	}

	raw, err = msg.TryGetFieldByName("metadata")
	if err != nil {
		return r, fmt.Errorf("metadata: %w", err)
	}
	if entries, ok := raw.(map[interface{}]interface{}); ok {
		r.Metadata = make(map[string]string, len(entries))
		for k, v := range entries {
			key, _ := k.(string)
			val, _ := v.(string)
			r.Metadata[key] = val
		}
	}
	return r, nil
}
