// Package sharedsegment provides a transmission strategy that moves payload
// bytes through named memory-mapped segments, so producer and consumer need
// not share an address space.
//
// Byte slices, strings and protobuf messages are copied into a segment and
// replaced by a SegmentRef; the same applies to such values nested one level
// inside a map[string]any record. Any other value travels unchanged.
// Receiving resolves the reference, restores the value and unlinks the
// segment. Each destination of a wire gets its own segment.
package sharedsegment

import (
	"errors"
	"fmt"
	"maps"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	"github.com/drblury/routineflow/internal/runtime/dataplane"
	"github.com/drblury/routineflow/internal/runtime/ids"
	"github.com/drblury/routineflow/transmit"
)

// StrategyName is the name used to register this strategy.
const StrategyName = "shared-segment"

const segmentPrefix = "routineflow"

func init() {
	Register()
}

// Register registers the strategy with the default registry.
func Register() {
	transmit.Register(StrategyName, Build, transmit.SharedSegmentCapabilities)
}

// Build creates the strategy, storing segments in cfg.GetSharedSegmentDir
// or DefaultDir when unset.
func Build(cfg transmit.Config, logger watermill.LoggerAdapter) (transmit.Strategy, error) {
	return New(cfg.GetSharedSegmentDir(), logger)
}

// Kind tells the receiver how to rebuild a payload from segment bytes.
type Kind string

const (
	KindBytes  Kind = "bytes"
	KindString Kind = "string"
	KindProto  Kind = "proto"
)

// SegmentRef stands in for a payload while it sits in a segment.
type SegmentRef struct {
	Name     string `json:"name"`
	Size     int    `json:"size"`
	Kind     Kind   `json:"kind"`
	TypeName string `json:"type_name,omitempty"`
}

// Strategy is the shared-segment transmission strategy.
type Strategy struct {
	dir    string
	logger watermill.LoggerAdapter
}

// New returns a strategy storing segments in dir.
func New(dir string, logger watermill.LoggerAdapter) (*Strategy, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("shared segment dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("shared segment dir %s is not a directory", dir)
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Strategy{dir: dir, logger: logger}, nil
}

func (s *Strategy) Name() string { return StrategyName }

// Dir returns the directory holding the segments.
func (s *Strategy) Dir() string { return s.dir }

// Transmit returns a copy of msg whose payload lives in shared segments.
func (s *Strategy) Transmit(msg *dataplane.Message) (*dataplane.Message, error) {
	var created []SegmentRef
	payload, err := s.encode(msg.Payload, &created)
	if err != nil {
		s.release(created)
		return nil, err
	}
	out := msg.Copy()
	out.Payload = payload
	return out, nil
}

// Receive returns a copy of msg with every SegmentRef resolved. Resolved
// segments are unlinked.
func (s *Strategy) Receive(msg *dataplane.Message) (*dataplane.Message, error) {
	payload, err := s.decode(msg.Payload)
	if err != nil {
		return nil, err
	}
	out := msg.Copy()
	delete(out.Metadata, dataplane.MetadataStrategy)
	out.Payload = payload
	return out, nil
}

// Discard unlinks the segments of a transmitted message that will never be
// received.
func (s *Strategy) Discard(msg *dataplane.Message) {
	s.release(collectRefs(msg.Payload))
}

func (s *Strategy) encode(v any, created *[]SegmentRef) (any, error) {
	switch x := v.(type) {
	case []byte:
		if x == nil {
			return v, nil
		}
		return s.store(x, KindBytes, "", created)
	case string:
		return s.store([]byte(x), KindString, "", created)
	case proto.Message:
		if x == nil || !x.ProtoReflect().IsValid() {
			return v, nil
		}
		b, err := proto.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("marshal %T: %w", x, err)
		}
		return s.store(b, KindProto, string(x.ProtoReflect().Descriptor().FullName()), created)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, field := range x {
			if nested, ok := field.(map[string]any); ok {
				out[k] = maps.Clone(nested)
				continue
			}
			enc, err := s.encode(field, created)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = enc
		}
		return out, nil
	default:
		return v, nil
	}
}

func (s *Strategy) store(b []byte, kind Kind, typeName string, created *[]SegmentRef) (SegmentRef, error) {
	ref := SegmentRef{Name: ids.SegmentName(segmentPrefix), Size: len(b), Kind: kind, TypeName: typeName}
	if err := writeSegment(s.dir, ref.Name, b); err != nil {
		return SegmentRef{}, err
	}
	*created = append(*created, ref)
	return ref, nil
}

func (s *Strategy) decode(v any) (any, error) {
	switch x := v.(type) {
	case SegmentRef:
		return s.load(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		var errs []error
		for k, field := range x {
			dec, err := s.decode(field)
			if err != nil {
				errs = append(errs, fmt.Errorf("field %q: %w", k, err))
				continue
			}
			out[k] = dec
		}
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return out, nil
	default:
		return v, nil
	}
}

func (s *Strategy) load(ref SegmentRef) (any, error) {
	b, err := readSegment(s.dir, ref.Name, ref.Size)
	if unlinkErr := unlinkSegment(s.dir, ref.Name); unlinkErr != nil {
		s.logger.Error("Failed to unlink shared segment", unlinkErr, watermill.LogFields{"segment": ref.Name})
	}
	if err != nil {
		return nil, err
	}

	switch ref.Kind {
	case KindBytes:
		return b, nil
	case KindString:
		return string(b), nil
	case KindProto:
		mt, err := protoregistry.GlobalTypes.FindMessageByName(protoreflect.FullName(ref.TypeName))
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", ref.TypeName, err)
		}
		m := mt.New().Interface()
		if err := proto.Unmarshal(b, m); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", ref.TypeName, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("segment %s: unknown kind %q", ref.Name, ref.Kind)
	}
}

func (s *Strategy) release(refs []SegmentRef) {
	for _, ref := range refs {
		if err := unlinkSegment(s.dir, ref.Name); err != nil {
			s.logger.Error("Failed to unlink shared segment", err, watermill.LogFields{"segment": ref.Name})
		}
	}
}

func collectRefs(v any) []SegmentRef {
	switch x := v.(type) {
	case SegmentRef:
		return []SegmentRef{x}
	case map[string]any:
		var refs []SegmentRef
		for _, field := range x {
			refs = append(refs, collectRefs(field)...)
		}
		return refs
	default:
		return nil
	}
}
