package log_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"testing"

	applog "cropledger/internal/log"
)

func TestErrorWithoutRequest(t *testing.T) {
	var buf bytes.Buffer
	oldW, oldFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(oldW)
		log.SetFlags(oldFlags)
	}()

	applog.Error(nil, "sync.push.fail", errors.New("boom"), map[string]any{"owner": "o1", "batch": 3})

	var got map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &got); err != nil {
		t.Fatalf("not json: %q", buf.String())
	}
	if got["level"] != "error" || got["action"] != "sync.push.fail" || got["err"] != "boom" {
		t.Fatalf("bad entry: %v", got)
	}
	if got["owner_id"] != "o1" {
		t.Fatalf("owner not lifted: %v", got)
	}
	if f, _ := got["fields"].(map[string]any); f["batch"] != float64(3) {
		t.Fatalf("fields lost: %v", got)
	}
}
