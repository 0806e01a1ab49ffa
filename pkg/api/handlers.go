package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Mindburn-Labs/likelottery/pkg/auth"
	"github.com/Mindburn-Labs/likelottery/pkg/contracts"
	"github.com/Mindburn-Labs/likelottery/pkg/crypto"
	"github.com/Mindburn-Labs/likelottery/pkg/store"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

// YankRequest authorizes a draw with an admin-signed nonce.
type YankRequest struct {
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// DrawResponse is one recorded draw.
type DrawResponse struct {
	contracts.YankEvent
	Event contracts.Event `json:"event"`
}

// AdminYankRequest names the identity credited with the draws.
type AdminYankRequest struct {
	Target string `json:"target"`
}

// EmitSnapshotRequest commits a participant snapshot hash.
type EmitSnapshotRequest struct {
	SnapshotHash  string `json:"snapshot_hash"`
	Timestamp     uint64 `json:"timestamp"`
	GiveawayIndex uint64 `json:"giveaway_index"`
}

// AddressRequest carries a new admin or owner.
type AddressRequest struct {
	Address string `json:"address"`
}

// YankLoopCountRequest sets the admin-yank repetition count.
type YankLoopCountRequest struct {
	Count int `json:"count"`
}

// NonceStatus answers isNonceUsed.
type NonceStatus struct {
	Nonce crypto.Nonce `json:"nonce"`
	Used  bool         `json:"used"`
}

// ChainReport is the result of an event chain verification.
type ChainReport struct {
	Valid   bool   `json:"valid"`
	Checked int    `json:"checked"`
	Error   string `json:"error,omitempty"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return false
	}
	return true
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, r, "")
		return common.Address{}, false
	}
	return p.Address, true
}

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseHexBytes(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCrank(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	ev, err := s.engine.Crank(r.Context(), caller)
	if err != nil {
		WriteLotteryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleYank(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req YankRequest
	if !decode(w, r, &req) {
		return
	}
	nonce, err := crypto.ParseNonce(req.Nonce)
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	// Undecodable hex reaches the engine as an empty signature so a consumed
	// nonce still reports AlreadyUsed first.
	sig, _ := parseHexBytes(req.Signature)
	res, err := s.engine.Yank(r.Context(), caller, nonce, sig)
	if err != nil {
		WriteLotteryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DrawResponse{YankEvent: res.Yank, Event: res.Event})
}

func (s *Server) handleAdminYank(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req AdminYankRequest
	if !decode(w, r, &req) {
		return
	}
	target, ok := parseAddress(req.Target)
	if !ok {
		WriteBadRequest(w, r, "target must be a 0x address")
		return
	}
	results, err := s.engine.AdminYank(r.Context(), caller, target)
	if err != nil {
		WriteLotteryError(w, r, err)
		return
	}
	out := make([]DrawResponse, 0, len(results))
	for _, res := range results {
		out = append(out, DrawResponse{YankEvent: res.Yank, Event: res.Event})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEmitSnapshot(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req EmitSnapshotRequest
	if !decode(w, r, &req) {
		return
	}
	raw, err := parseHexBytes(req.SnapshotHash)
	if err != nil || len(raw) != common.HashLength {
		WriteBadRequest(w, r, "snapshot_hash must be 32 bytes of hex")
		return
	}
	c, err := s.engine.EmitSnapshotHash(r.Context(), caller, common.BytesToHash(raw), req.Timestamp, req.GiveawayIndex)
	if err != nil {
		WriteLotteryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleSetAdmin(w http.ResponseWriter, r *http.Request) {
	s.handleAddressChange(w, r, s.engine.SetAdmin)
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	s.handleAddressChange(w, r, s.engine.TransferOwnership)
}

func (s *Server) handleAddressChange(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, caller, addr common.Address) error) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req AddressRequest
	if !decode(w, r, &req) {
		return
	}
	addr, ok := parseAddress(req.Address)
	if !ok {
		WriteBadRequest(w, r, "address must be a 0x address")
		return
	}
	if err := apply(r.Context(), caller, addr); err != nil {
		WriteLotteryError(w, r, err)
		return
	}
	s.handleState(w, r)
}

func (s *Server) handleSetYankLoopCount(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req YankLoopCountRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.SetYankLoopCount(r.Context(), caller, req.Count); err != nil {
		WriteLotteryError(w, r, err)
		return
	}
	s.handleState(w, r)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.State(r.Context())
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	nonce, err := crypto.ParseNonce(r.PathValue("nonce"))
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	used, err := s.engine.IsNonceUsed(r.Context(), nonce)
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NonceStatus{Nonce: nonce, Used: used})
}

func (s *Server) handleCrankStatus(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(r.PathValue("address"))
	if !ok {
		WriteBadRequest(w, r, "address must be a 0x address")
		return
	}
	status, err := s.engine.CrankStatus(r.Context(), addr)
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCommitments(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.Commitments(r.Context())
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	if list == nil {
		list = []contracts.SnapshotCommitment{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCommitment(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		WriteBadRequest(w, r, "index must be a non-negative integer")
		return
	}
	c, err := s.engine.Commitment(r.Context(), index)
	if err != nil {
		WriteLotteryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after uint64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			WriteBadRequest(w, r, "after must be a non-negative integer")
			return
		}
		after = n
	}
	limit := defaultEventPage
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxEventPage {
			WriteBadRequest(w, r, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	events, err := s.engine.Events(r.Context(), after, limit)
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	if events == nil {
		events = []contracts.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleVerifyEvents(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.VerifyEventChain(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ChainReport{Valid: true, Checked: n})
	case errors.Is(err, store.ErrChainBroken):
		s.logger.ErrorContext(r.Context(), "event chain verification failed", "error", err)
		writeJSON(w, http.StatusOK, ChainReport{Valid: false, Checked: n, Error: err.Error()})
	default:
		WriteInternal(w, r, err)
	}
}
