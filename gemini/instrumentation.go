package gemini

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/room4-2/tripbridge/gemini"

var tracer = otel.Tracer(scopeName)
