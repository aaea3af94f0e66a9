package httpapi

import "github.com/gofiber/fiber/v3"

const landingHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>pdf-rag</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; background: #0f172a; color: #e2e8f0; display: flex; justify-content: center; padding-top: 10vh; }
  .card { max-width: 600px; width: 90%; background: #1e293b; border-radius: 12px; padding: 2rem; }
  h1 { margin-top: 0; }
  .endpoint { font-family: "SF Mono", Menlo, monospace; color: #a5b4fc; }
  pre { background: #0f172a; border: 1px solid #334155; border-radius: 8px; padding: 1rem; overflow-x: auto; }
</style>
</head>
<body>
<div class="card">
  <h1>pdf-rag</h1>
  <p>Ask questions about ingested PDF documents.</p>
  <p><span class="endpoint">POST /api/v1/ingest</span> &mdash; ingest a PDF</p>
  <p><span class="endpoint">POST /api/v1/query</span> &mdash; answer a question</p>
  <p><span class="endpoint">GET /api/v1/collection</span> &mdash; collection info</p>
  <p><span class="endpoint">/mcp</span> &mdash; MCP Streamable HTTP</p>
  <p><span class="endpoint">/health</span> &mdash; health check</p>
  <pre><code>curl -X POST localhost:8080/api/v1/query -d '{"question":"What is the warranty?"}' -H 'Content-Type: application/json'</code></pre>
</div>
</body>
</html>`

// landingHandler serves the landing page at /.
func landingHandler(c fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(landingHTML)
}
