package faceswap

import (
	"encoding/json"
	"fmt"

	"storybook/internal/services/providerhttp"
)

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("faceswap: encode request: %v", err))
	}
	return data
}

func decodeJSON(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w (payload snippet: %s)", err, providerhttp.Snippet(string(body)))
	}
	return nil
}
