package mcpadapter

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kirillkom/ebook-library/internal/core/domain"
	"github.com/kirillkom/ebook-library/internal/core/ports"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName = "ebook-library"

	toolListEbooks  = "list_ebooks"
	toolGetEbook    = "get_ebook"
	toolExtractText = "extract_ebook_text"
)

type Tools struct {
	library    ports.LibraryService
	extraction ports.TextExtractionService
}

func NewTools(library ports.LibraryService, extraction ports.TextExtractionService) *Tools {
	return &Tools{library: library, extraction: extraction}
}

// NewServer exposes the library over the Model Context Protocol.
func NewServer(version string, tools *Tools) *server.MCPServer {
	s := server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	tools.Register(s)
	return s
}

func (t *Tools) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool(toolListEbooks,
		mcp.WithDescription("List stored ebooks, newest first."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of records to return."),
			mcp.Min(1),
			mcp.Max(500),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	), t.listEbooks)

	s.AddTool(mcp.NewTool(toolGetEbook,
		mcp.WithDescription("Fetch one ebook record by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Ebook id.")),
		mcp.WithReadOnlyHintAnnotation(true),
	), t.getEbook)

	s.AddTool(mcp.NewTool(toolExtractText,
		mcp.WithDescription("Return the plain text of an EPUB, extracting it on first use."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Ebook id.")),
		mcp.WithBoolean("force", mcp.Description("Ignore the cached text and parse the file again.")),
		mcp.WithDestructiveHintAnnotation(false),
	), t.extractText)
}

func (t *Tools) listEbooks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	books, err := t.library.List(ctx, req.GetInt("limit", 0))
	if err != nil {
		return toolError(toolListEbooks, err)
	}
	if books == nil {
		books = []domain.Ebook{}
	}
	return mcp.NewToolResultJSON(books)
}

func (t *Tools) getEbook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	book, err := t.library.Get(ctx, id)
	if err != nil {
		return toolError(toolGetEbook, err)
	}
	return mcp.NewToolResultJSON(book)
}

func (t *Tools) extractText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := t.extraction.Extract(ctx, id, req.GetBool("force", false))
	if err != nil {
		return toolError(toolExtractText, err)
	}
	return mcp.NewToolResultText(result.ExtractedText), nil
}

// toolError reports caller mistakes as tool results so the model can react.
// Anything else is returned as a protocol error.
func toolError(tool string, err error) (*mcp.CallToolResult, error) {
	switch {
	case domain.IsKind(err, domain.ErrNotFound),
		domain.IsKind(err, domain.ErrInvalidInput),
		domain.IsKind(err, domain.ErrUnsupportedFormat),
		domain.IsKind(err, domain.ErrParse),
		domain.IsKind(err, domain.ErrChapterFetch):
		return mcp.NewToolResultError(err.Error()), nil
	case errors.Is(err, context.Canceled):
		return nil, err
	default:
		slog.Error("mcp_tool_failed", "tool", tool, "error", err)
		return nil, err
	}
}
