package gemini

import (
	"errors"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/room4-2/tripbridge/functions"
)

func TestSnakeToCamel(t *testing.T) {
	cases := map[string]string{
		"setup":                      "setup",
		"client_content":             "clientContent",
		"output_audio_transcription": "outputAudioTranscription",
		"mime_type":                  "mimeType",
	}
	for in, want := range cases {
		if got := snakeToCamel(in); got != want {
			t.Fatalf("snakeToCamel(%q)=%q, want %q", in, got, want)
		}
	}
}

func rawMap(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := sonic.ConfigStd.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return m
}

func testDeclarations() []functions.Declaration {
	return []functions.Declaration{{
		Name:        "get_weather",
		Description: "Forecast",
		Parameters: &functions.Schema{
			Type: "object",
			Properties: map[string]*functions.Schema{
				"location": {Type: "string", Description: "City"},
				"days":     {Type: "integer"},
			},
			Required: []string{"location"},
		},
	}}
}

func TestEncode_SetupSnakeCase(t *testing.T) {
	data, err := SnakeCase.Encode(&Frame{Setup: &Setup{
		Model:             "models/test",
		SystemInstruction: "be brief",
		VoiceName:         "Puck",
		Tools:             testDeclarations(),
	}})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	m := rawMap(t, data)
	setup, ok := m["setup"].(map[string]any)
	if !ok {
		t.Fatalf("setup missing: %s", data)
	}
	if setup["model"] != "models/test" {
		t.Fatalf("model=%v", setup["model"])
	}
	if _, ok := setup["system_instruction"]; !ok {
		t.Fatalf("system_instruction missing: %s", data)
	}
	if _, ok := setup["generation_config"]; !ok {
		t.Fatalf("generation_config missing: %s", data)
	}
	tools := setup["tools"].([]any)
	decls := tools[0].(map[string]any)["function_declarations"].([]any)
	params := decls[0].(map[string]any)["parameters"].(map[string]any)
	if params["type"] != "OBJECT" {
		t.Fatalf("parameters type=%v, want OBJECT", params["type"])
	}
	loc := params["properties"].(map[string]any)["location"].(map[string]any)
	if loc["type"] != "STRING" {
		t.Fatalf("location type=%v, want STRING", loc["type"])
	}
}

func TestEncode_CamelCase(t *testing.T) {
	data, err := CamelCase.Encode(&Frame{ClientContent: &ClientContent{
		Turns:        []Content{{Role: "user", Parts: []Part{{Text: "hi"}}}},
		TurnComplete: true,
	}})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	m := rawMap(t, data)
	cc, ok := m["clientContent"].(map[string]any)
	if !ok {
		t.Fatalf("clientContent missing: %s", data)
	}
	if cc["turnComplete"] != true {
		t.Fatalf("turnComplete=%v", cc["turnComplete"])
	}
}

func TestEncode_Interrupt(t *testing.T) {
	data, err := SnakeCase.Encode(&Frame{ClientContent: &ClientContent{TurnComplete: true}})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if got := string(data); got != `{"client_content":{"turn_complete":true}}` {
		t.Fatalf("interrupt frame=%s", got)
	}
}

func TestEncode_EmptyFrame(t *testing.T) {
	if _, err := SnakeCase.Encode(&Frame{}); err == nil {
		t.Fatal("expected error for empty frame")
	}
}

func TestDecode_BothSpellings(t *testing.T) {
	frames := map[string]string{
		"camel": `{"serverContent":{"modelTurn":{"parts":[{"text":"Hel"},{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AAAA"}}]}}}`,
		"snake": `{"server_content":{"model_turn":{"parts":[{"text":"Hel"},{"inline_data":{"mime_type":"audio/pcm;rate=24000","data":"AAAA"}}]}}}`,
	}
	for name, raw := range frames {
		t.Run(name, func(t *testing.T) {
			f, err := CamelCase.Decode([]byte(raw))
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			sc := f.ServerContent
			if sc == nil || sc.ModelTurn == nil || len(sc.ModelTurn.Parts) != 2 {
				t.Fatalf("server content=%+v", sc)
			}
			if sc.ModelTurn.Parts[0].Text != "Hel" {
				t.Fatalf("text=%q", sc.ModelTurn.Parts[0].Text)
			}
			blob := sc.ModelTurn.Parts[1].InlineData
			if blob == nil || blob.Data != "AAAA" || blob.MIMEType != "audio/pcm;rate=24000" {
				t.Fatalf("blob=%+v", blob)
			}
			if sc.TurnComplete {
				t.Fatal("turn should not be complete")
			}
		})
	}
}

func TestDecode_TopLevelTurnComplete(t *testing.T) {
	f, err := SnakeCase.Decode([]byte(`{"serverContent":{"modelTurn":{"parts":[{"text":"done"}]}},"turnComplete":true}`))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if f.ServerContent == nil || !f.ServerContent.TurnComplete {
		t.Fatalf("server content=%+v, want turn complete", f.ServerContent)
	}
}

func TestDecode_ToolCall(t *testing.T) {
	f, err := SnakeCase.Decode([]byte(`{"toolCall":{"functionCalls":[
		{"id":"c1","name":"get_weather","args":{"location":"Rome"}},
		{"id":"c2","name":"search_places","args":{"query":"pizza","location":"Rome"}}
	]}}`))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(f.ToolCall) != 2 || f.ToolCall[0].ID != "c1" || f.ToolCall[1].Name != "search_places" {
		t.Fatalf("tool calls=%+v", f.ToolCall)
	}
	if f.ToolCall[0].Args["location"] != "Rome" {
		t.Fatalf("args=%v", f.ToolCall[0].Args)
	}
}

func TestDecode_SetupComplete(t *testing.T) {
	for _, raw := range []string{`{"setupComplete":{}}`, `{"setup_complete":{}}`} {
		f, err := CamelCase.Decode([]byte(raw))
		if err != nil {
			t.Fatalf("Decode(%s) error: %v", raw, err)
		}
		if !f.SetupComplete {
			t.Fatalf("Decode(%s) setup complete=false", raw)
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := []string{
		`not json`,
		`null`,
		`{"serverContent":"text"}`,
		`{"serverContent":{"modelTurn":{"parts":"nope"}}}`,
		`{"toolCall":{"functionCalls":[{"id":"x"}]}}`,
		`{"serverContent":{"modelTurn":{"parts":[{"text":5}]}}}`,
	}
	for _, raw := range cases {
		if _, err := CamelCase.Decode([]byte(raw)); !errors.Is(err, ErrDecode) {
			t.Fatalf("Decode(%s) err=%v, want ErrDecode", raw, err)
		}
	}
}

func TestDecode_UnknownFrameIsEmpty(t *testing.T) {
	f, err := CamelCase.Decode([]byte(`{"usageMetadata":{"totalTokenCount":3}}`))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if !f.Empty() {
		t.Fatalf("frame=%+v, want empty", f)
	}
}

func TestSetupRoundTrip(t *testing.T) {
	for _, c := range []Codec{SnakeCase, CamelCase} {
		t.Run(c.String(), func(t *testing.T) {
			in := &Setup{Model: "m", SystemInstruction: "sys", VoiceName: "Kore", Tools: testDeclarations()}
			data, err := c.Encode(&Frame{Setup: in})
			if err != nil {
				t.Fatalf("Encode error: %v", err)
			}
			f, err := c.Decode(data)
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			out := f.Setup
			if out == nil || out.Model != "m" || out.SystemInstruction != "sys" || out.VoiceName != "Kore" {
				t.Fatalf("setup=%+v", out)
			}
			if len(out.Tools) != 1 || out.Tools[0].Parameters.Properties["days"].Type != "INTEGER" {
				t.Fatalf("tools=%+v", out.Tools)
			}
		})
	}
}
