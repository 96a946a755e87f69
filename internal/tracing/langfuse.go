// Package tracing configures optional Langfuse tracing of semdex queries.
// The query engine reports eino retriever callbacks; registering the handler
// returned by Setup as a global eino handler sends each query, its result
// count and any error to Langfuse.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// defaultHost is the Langfuse endpoint used when LANGFUSE_HOST is unset.
const defaultHost = "http://localhost:3000"

// Setup initialises the Langfuse callback handler when LANGFUSE_PUBLIC_KEY
// and LANGFUSE_SECRET_KEY are both set. The returned flush function must be
// called before process exit so buffered traces are sent. When Langfuse is
// not configured it returns nil, nil, false.
func Setup() (callbacks.Handler, func(), bool) {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return nil, nil, false
	}

	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultHost
	}

	handler, flush := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
	})
	return handler, flush, true
}

// Enable registers the Langfuse handler globally when configured and returns
// a flush function to defer. The flush function is never nil.
func Enable() (func(), bool) {
	handler, flush, ok := Setup()
	if !ok {
		return func() {}, false
	}
	callbacks.AppendGlobalHandlers(handler)
	return flush, true
}
