package blobfilter

import "encoding/json"

func marshalField(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalField(data []byte) (any, error) {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
