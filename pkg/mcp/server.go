// Package mcp exposes the buyer's purchasing tools to LLM frameworks as an
// MCP server over stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pario-ai/agentpay/pkg/models"
	"go.uber.org/zap"
)

// Buyer is the purchasing surface the tools drive. *buyer.Client
// implements it.
type Buyer interface {
	Sellers() []models.SellerSummary
	DiscoverPricing(ctx context.Context, sellerURL string) (models.PricingSheet, error)
	DiscoverAgent(ctx context.Context, agentURL string) (models.SellerInfo, error)
	CheckBalance(ctx context.Context, planID string) (models.Balance, error)
	Budget() models.BudgetStatus
	Purchase(ctx context.Context, sellerURL, query string) models.Outcome
	PurchaseA2A(ctx context.Context, agentURL, query string) models.Outcome
}

const instructions = `You buy data from other agents with plan credits.
1. list_sellers or discover_agent / discover_pricing to find a seller and its prices.
2. check_balance and budget_status before purchasing.
3. purchase_data (HTTP) or purchase_a2a (A2A) with a clear query.
If a budget limit is exceeded, explain it and suggest a cheaper query.`

// Server is a minimal MCP server speaking JSON-RPC 2.0 over stdio.
type Server struct {
	buyer   Buyer
	planID  string
	version string
	log     *zap.Logger
}

// New creates a Server. planID is the default plan for check_balance.
func New(b Buyer, planID, version string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{buyer: b, planID: planID, version: version, log: log}
}

// Run reads requests from r line by line and writes responses to w. It
// blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, Response{JSONRPC: "2.0", Error: &RPCError{Code: CodeParseError, Message: "parse error"}})
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, *resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return result(req, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "agentpay-buyer", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
			Instructions:    instructions,
		})
	case "notifications/initialized", "notifications/cancelled":
		return nil
	case "ping":
		return result(req, map[string]any{})
	case "tools/list":
		return result(req, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.callTool(ctx, req)
	default:
		return &Response{JSONRPC: "2.0", ID: req.ID,
			Error: &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", req.Method)}}
	}
}

func (s *Server) callTool(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &Response{JSONRPC: "2.0", ID: req.ID,
			Error: &RPCError{Code: CodeInvalidParams, Message: "invalid params"}}
	}
	handler, ok := toolHandlers[params.Name]
	if !ok {
		return result(req, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}
	s.log.Debug("tool call", zap.String("tool", params.Name))
	return result(req, handler(ctx, s, params.Arguments))
}

func result(req *Request, v any) *Response {
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: v}
}

func (s *Server) write(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("marshal mcp response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.log.Error("write mcp response", zap.Error(err))
	}
}
