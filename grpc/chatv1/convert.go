package chatv1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct converts any JSON-encodable object into a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("not a json object: %w", err)
	}
	return out, nil
}

// ToList converts a JSON-encodable slice into a ListValue.
func ToList(v any) (*structpb.ListValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.ListValue{}
	if string(raw) == "null" {
		return out, nil
	}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("not a json array: %w", err)
	}
	return out, nil
}

// FromStruct decodes a Struct into target with encoding/json rules.
func FromStruct(s *structpb.Struct, target any) error {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

// FromList decodes a ListValue into target with encoding/json rules.
func FromList(l *structpb.ListValue, target any) error {
	raw, err := protojson.Marshal(l)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
