package storage

import (
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Records are stored as a marshalled google.protobuf.Struct.
// Numbers in a Struct are doubles, so ids and instants are kept as strings
// to survive the round trip without losing precision.

type fields map[string]any

func encode(f fields) ([]byte, error) {
	s, err := structpb.NewStruct(f)
	if err != nil {
		return nil, fmt.Errorf("build record: %w", err)
	}
	return proto.Marshal(s)
}

type record struct {
	s *structpb.Struct
}

func decode(data []byte) (record, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return record{s: &s}, nil
}

func (r record) str(key string) string {
	return r.s.GetFields()[key].GetStringValue()
}

func (r record) boolean(key string) bool {
	return r.s.GetFields()[key].GetBoolValue()
}

func (r record) strs(key string) []string {
	values := r.s.GetFields()[key].GetListValue().GetValues()
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, v.GetStringValue())
	}
	return out
}

func (r record) uint(key string) (uint64, error) {
	return strconv.ParseUint(r.str(key), 10, 64)
}

func (r record) time(key string) (time.Time, error) {
	raw := r.str(key)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func (r record) optionalTime(key string) (*time.Time, error) {
	if r.str(key) == "" {
		return nil, nil
	}
	t, err := r.time(key)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// DescribeValue renders a stored value for inspection tools.
// Index entries are plain bytes and are shown as such.
func DescribeValue(val []byte) string {
	var s structpb.Struct
	if err := proto.Unmarshal(val, &s); err == nil && len(s.GetFields()) > 0 {
		if out, err := protojson.Marshal(&s); err == nil {
			return string(out)
		}
	}
	return string(val)
}
