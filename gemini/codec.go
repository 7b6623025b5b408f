package gemini

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/room4-2/tripbridge/functions"
)

// ErrDecode marks an inbound frame that could not be understood.
var ErrDecode = errors.New("malformed frame")

// Codec serializes frames with one field-naming convention. Decoding accepts
// both conventions regardless of the codec used.
type Codec struct {
	name string
	key  func(string) string
}

var (
	// SnakeCase spells fields like client_content. The bridge sends with it.
	SnakeCase = Codec{name: "snake_case", key: func(s string) string { return s }}
	// CamelCase spells fields like clientContent. Upstream replies with it.
	CamelCase = Codec{name: "camelCase", key: snakeToCamel}
)

func (c Codec) String() string { return c.name }

// Encode serializes f.
func (c Codec) Encode(f *Frame) ([]byte, error) {
	k := c.key
	m := make(map[string]any)

	if f.Setup != nil {
		m[k("setup")] = c.encodeSetup(f.Setup)
	}
	if cc := f.ClientContent; cc != nil {
		out := map[string]any{k("turn_complete"): cc.TurnComplete}
		if len(cc.Turns) > 0 {
			turns := make([]any, 0, len(cc.Turns))
			for _, t := range cc.Turns {
				turns = append(turns, c.encodeContent(t))
			}
			out["turns"] = turns
		}
		m[k("client_content")] = out
	}
	if ri := f.RealtimeInput; ri != nil {
		chunks := make([]any, 0, len(ri.MediaChunks))
		for _, b := range ri.MediaChunks {
			chunks = append(chunks, c.encodeBlob(b))
		}
		m[k("realtime_input")] = map[string]any{k("media_chunks"): chunks}
	}
	if tr := f.ToolResponse; tr != nil {
		responses := make([]any, 0, len(tr.FunctionResponses))
		for _, r := range tr.FunctionResponses {
			responses = append(responses, map[string]any{
				"id":       r.ID,
				"name":     r.Name,
				"response": r.Response,
			})
		}
		m[k("tool_response")] = map[string]any{k("function_responses"): responses}
	}

	if f.SetupComplete {
		m[k("setup_complete")] = map[string]any{}
	}
	if sc := f.ServerContent; sc != nil {
		out := make(map[string]any)
		if sc.ModelTurn != nil {
			out[k("model_turn")] = c.encodeContent(*sc.ModelTurn)
		}
		if sc.TurnComplete {
			out[k("turn_complete")] = true
		}
		if sc.Interrupted {
			out["interrupted"] = true
		}
		if sc.InputTranscription != "" {
			out[k("input_transcription")] = map[string]any{"text": sc.InputTranscription}
		}
		if sc.OutputTranscription != "" {
			out[k("output_transcription")] = map[string]any{"text": sc.OutputTranscription}
		}
		m[k("server_content")] = out
	}
	if len(f.ToolCall) > 0 {
		calls := make([]any, 0, len(f.ToolCall))
		for _, fc := range f.ToolCall {
			calls = append(calls, map[string]any{"id": fc.ID, "name": fc.Name, "args": fc.Args})
		}
		m[k("tool_call")] = map[string]any{k("function_calls"): calls}
	}
	if len(f.ToolCallCancellation) > 0 {
		m[k("tool_call_cancellation")] = map[string]any{"ids": f.ToolCallCancellation}
	}

	if len(m) == 0 {
		return nil, errors.New("encode: empty frame")
	}
	return sonic.ConfigStd.Marshal(m)
}

func (c Codec) encodeSetup(s *Setup) map[string]any {
	k := c.key
	gen := map[string]any{k("response_modalities"): []string{"AUDIO"}}
	if s.VoiceName != "" {
		gen[k("speech_config")] = map[string]any{
			k("voice_config"): map[string]any{
				k("prebuilt_voice_config"): map[string]any{k("voice_name"): s.VoiceName},
			},
		}
	}
	out := map[string]any{
		"model":                         s.Model,
		k("generation_config"):          gen,
		k("input_audio_transcription"):  map[string]any{},
		k("output_audio_transcription"): map[string]any{},
	}
	if s.SystemInstruction != "" {
		out[k("system_instruction")] = map[string]any{
			"parts": []any{map[string]any{"text": s.SystemInstruction}},
		}
	}
	if len(s.Tools) > 0 {
		decls := make([]any, 0, len(s.Tools))
		for _, d := range s.Tools {
			decls = append(decls, d.UpperCased())
		}
		out["tools"] = []any{map[string]any{k("function_declarations"): decls}}
	}
	return out
}

func (c Codec) encodeContent(content Content) map[string]any {
	parts := make([]any, 0, len(content.Parts))
	for _, p := range content.Parts {
		switch {
		case p.InlineData != nil:
			parts = append(parts, map[string]any{c.key("inline_data"): c.encodeBlob(*p.InlineData)})
		default:
			parts = append(parts, map[string]any{"text": p.Text})
		}
	}
	out := map[string]any{"parts": parts}
	if content.Role != "" {
		out["role"] = content.Role
	}
	return out
}

func (c Codec) encodeBlob(b Blob) map[string]any {
	return map[string]any{c.key("mime_type"): b.MIMEType, "data": b.Data}
}

// Decode parses a frame spelled in either convention.
func (c Codec) Decode(data []byte) (*Frame, error) {
	var raw map[string]any
	if err := sonic.ConfigStd.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", ErrDecode)
	}
	f, err := decodeFrame(object(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return f, nil
}

func decodeFrame(o object) (*Frame, error) {
	f := &Frame{}
	_, f.SetupComplete = o.get("setup_complete")

	if s, ok, err := o.obj("setup"); err != nil {
		return nil, err
	} else if ok {
		setup, err := decodeSetup(s)
		if err != nil {
			return nil, err
		}
		f.Setup = setup
	}

	if cc, ok, err := o.obj("client_content"); err != nil {
		return nil, err
	} else if ok {
		out := &ClientContent{TurnComplete: cc.boolean("turn_complete")}
		turns, err := cc.objects("turns")
		if err != nil {
			return nil, err
		}
		for _, t := range turns {
			content, err := decodeContent(t)
			if err != nil {
				return nil, err
			}
			out.Turns = append(out.Turns, *content)
		}
		f.ClientContent = out
	}

	if ri, ok, err := o.obj("realtime_input"); err != nil {
		return nil, err
	} else if ok {
		chunks, err := ri.objects("media_chunks")
		if err != nil {
			return nil, err
		}
		out := &RealtimeInput{}
		for _, ch := range chunks {
			out.MediaChunks = append(out.MediaChunks, Blob{MIMEType: ch.str("mime_type"), Data: ch.str("data")})
		}
		f.RealtimeInput = out
	}

	if tr, ok, err := o.obj("tool_response"); err != nil {
		return nil, err
	} else if ok {
		responses, err := tr.objects("function_responses")
		if err != nil {
			return nil, err
		}
		out := &ToolResponse{}
		for _, r := range responses {
			resp, _, err := r.obj("response")
			if err != nil {
				return nil, err
			}
			out.FunctionResponses = append(out.FunctionResponses, FunctionResponse{
				ID:       r.str("id"),
				Name:     r.str("name"),
				Response: resp,
			})
		}
		f.ToolResponse = out
	}

	if sc, ok, err := o.obj("server_content"); err != nil {
		return nil, err
	} else if ok {
		out := &ServerContent{
			TurnComplete: sc.boolean("turn_complete"),
			Interrupted:  sc.boolean("interrupted"),
		}
		if mt, ok, err := sc.obj("model_turn"); err != nil {
			return nil, err
		} else if ok {
			if out.ModelTurn, err = decodeContent(mt); err != nil {
				return nil, err
			}
		}
		if it, ok, _ := sc.obj("input_transcription"); ok {
			out.InputTranscription = it.str("text")
		}
		if ot, ok, _ := sc.obj("output_transcription"); ok {
			out.OutputTranscription = ot.str("text")
		}
		f.ServerContent = out
	}
	// Some servers report turn completion beside serverContent.
	if o.boolean("turn_complete") {
		if f.ServerContent == nil {
			f.ServerContent = &ServerContent{}
		}
		f.ServerContent.TurnComplete = true
	}

	if tc, ok, err := o.obj("tool_call"); err != nil {
		return nil, err
	} else if ok {
		calls, err := tc.objects("function_calls")
		if err != nil {
			return nil, err
		}
		for _, call := range calls {
			name := call.str("name")
			if name == "" {
				return nil, errors.New("function call without a name")
			}
			args, _, err := call.obj("args")
			if err != nil {
				return nil, err
			}
			f.ToolCall = append(f.ToolCall, FunctionCall{ID: call.str("id"), Name: name, Args: args})
		}
	}

	if cancel, ok, err := o.obj("tool_call_cancellation"); err != nil {
		return nil, err
	} else if ok {
		ids, _ := cancel.get("ids")
		list, _ := ids.([]any)
		for _, id := range list {
			if s, ok := id.(string); ok {
				f.ToolCallCancellation = append(f.ToolCallCancellation, s)
			}
		}
	}
	return f, nil
}

func decodeSetup(s object) (*Setup, error) {
	out := &Setup{Model: s.str("model")}
	if si, ok, _ := s.obj("system_instruction"); ok {
		parts, err := si.objects("parts")
		if err != nil {
			return nil, err
		}
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			texts = append(texts, p.str("text"))
		}
		out.SystemInstruction = strings.Join(texts, "")
	}
	if gen, ok, _ := s.obj("generation_config"); ok {
		out.VoiceName = gen.path("speech_config", "voice_config", "prebuilt_voice_config").str("voice_name")
	}
	tools, err := s.objects("tools")
	if err != nil {
		return nil, err
	}
	for _, t := range tools {
		decls, err := t.objects("function_declarations")
		if err != nil {
			return nil, err
		}
		for _, d := range decls {
			params, _, _ := d.obj("parameters")
			out.Tools = append(out.Tools, functions.Declaration{
				Name:        d.str("name"),
				Description: d.str("description"),
				Parameters:  decodeSchema(params),
			})
		}
	}
	return out, nil
}

func decodeSchema(o object) *functions.Schema {
	if o == nil {
		return nil
	}
	s := &functions.Schema{
		Type:        o.str("type"),
		Description: o.str("description"),
	}
	if items, ok, _ := o.obj("items"); ok {
		s.Items = decodeSchema(items)
	}
	if props, ok, _ := o.obj("properties"); ok {
		s.Properties = make(map[string]*functions.Schema, len(props))
		for name, v := range props {
			if p, ok := v.(map[string]any); ok {
				s.Properties[name] = decodeSchema(p)
			}
		}
	}
	s.Required = o.strings("required")
	s.Enum = o.strings("enum")
	return s
}

func decodeContent(o object) (*Content, error) {
	parts, err := o.objects("parts")
	if err != nil {
		return nil, err
	}
	content := &Content{Role: o.str("role")}
	for _, p := range parts {
		if blob, ok, _ := p.obj("inline_data"); ok {
			content.Parts = append(content.Parts, Part{InlineData: &Blob{
				MIMEType: blob.str("mime_type"),
				Data:     blob.str("data"),
			}})
			continue
		}
		if text, ok := p.get("text"); ok {
			s, isString := text.(string)
			if !isString {
				return nil, errors.New("text part is not a string")
			}
			content.Parts = append(content.Parts, Part{Text: s})
		}
	}
	return content, nil
}

// object looks fields up by their snake_case name, falling back to camelCase.
type object map[string]any

func (o object) get(snake string) (any, bool) {
	if v, ok := o[snake]; ok {
		return v, true
	}
	v, ok := o[snakeToCamel(snake)]
	return v, ok
}

func (o object) obj(snake string) (object, bool, error) {
	v, ok := o.get(snake)
	if !ok || v == nil {
		return nil, false, nil
	}
	m, isObject := v.(map[string]any)
	if !isObject {
		return nil, false, fmt.Errorf("%s is %T, want object", snake, v)
	}
	return object(m), true, nil
}

func (o object) objects(snake string) ([]object, error) {
	v, ok := o.get(snake)
	if !ok || v == nil {
		return nil, nil
	}
	list, isList := v.([]any)
	if !isList {
		return nil, fmt.Errorf("%s is %T, want array", snake, v)
	}
	out := make([]object, 0, len(list))
	for i, item := range list {
		m, isObject := item.(map[string]any)
		if !isObject {
			return nil, fmt.Errorf("%s[%d] is %T, want object", snake, i, item)
		}
		out = append(out, object(m))
	}
	return out, nil
}

func (o object) path(keys ...string) object {
	cur := o
	for _, k := range keys {
		next, ok, _ := cur.obj(k)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func (o object) str(snake string) string {
	v, _ := o.get(snake)
	s, _ := v.(string)
	return s
}

func (o object) boolean(snake string) bool {
	v, _ := o.get(snake)
	b, _ := v.(bool)
	return b
}

func (o object) strings(snake string) []string {
	v, _ := o.get(snake)
	list, _ := v.([]any)
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func snakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
