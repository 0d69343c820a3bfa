// Package mcp exposes ragd's retrieval pipeline as MCP tools.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// over stdio and registers rag_search, rag_answer, rag_index and
// rag_index_info, plus rag_job_status when async indexing is enabled. Text
// returned to clients is scrubbed for secrets when a redactor is configured.
package mcp
