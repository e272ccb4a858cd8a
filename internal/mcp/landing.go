package mcp

import "net/http"

const landingHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>pdfchat</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #0f172a; color: #e2e8f0; display: flex; justify-content: center; padding-top: 10vh; }
  .card { max-width: 640px; width: 90%; background: #1e293b; border-radius: 12px; padding: 2.5rem; }
  h1 { margin: 0 0 0.5rem; }
  .subtitle { color: #94a3b8; margin-bottom: 1.5rem; }
  code { font-family: "SF Mono", Menlo, monospace; color: #a5b4fc; }
  li { margin: 0.35rem 0; }
</style>
</head>
<body>
<div class="card">
  <h1>pdfchat</h1>
  <p class="subtitle">Ask questions about your PDF documents.</p>
  <ul>
    <li><code>POST /v1/documents</code> upload PDFs (multipart field <code>files</code>)</li>
    <li><code>GET /v1/documents/{id}?namespace=</code> ingestion status</li>
    <li><code>DELETE /v1/documents/{id}?namespace=</code> remove a document</li>
    <li><code>POST /v1/ask</code> ask a question</li>
    <li><code>/mcp</code> MCP Streamable HTTP</li>
    <li><code>/health</code> health check</li>
    <li><code>/metrics</code> Prometheus metrics</li>
  </ul>
</div>
</body>
</html>`

// NewLandingHandler returns an HTTP handler that serves the landing page at /.
func NewLandingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(landingHTML))
	}
}
