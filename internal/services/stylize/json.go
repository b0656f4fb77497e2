package stylize

import (
	"encoding/json"
	"fmt"
)

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("stylize: encode request: %v", err))
	}
	return data
}
