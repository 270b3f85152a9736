package server

import (
	"TreasuryLedger/internal/core"
	"TreasuryLedger/internal/ingestion"
	"TreasuryLedger/internal/ledger"
	fpmath "TreasuryLedger/internal/math"
	"TreasuryLedger/internal/query"
	"TreasuryLedger/internal/treasury"
	"context"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TreasuryServiceServer is the server API for treasury.v1.TreasuryService.
type TreasuryServiceServer interface {
	CreateTreasury(context.Context, *ingestion.CreateTreasuryJSON) (*InstructionResponse, error)
	Stake(context.Context, *ingestion.PositionJSON) (*InstructionResponse, error)
	Redeem(context.Context, *ingestion.PositionJSON) (*InstructionResponse, error)
	GetTreasury(context.Context, *GetTreasuryRequest) (*TreasuryView, error)
	GetBalance(context.Context, *GetBalanceRequest) (*query.BalanceResponse, error)
	GetPosition(context.Context, *GetPositionRequest) (*query.PositionResponse, error)
	ListJournals(context.Context, *ListJournalsRequest) (*ListJournalsResponse, error)
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
}

// Reader is the live view of program state.
type Reader interface {
	GetTreasury(addr solana.PublicKey) (*treasury.Treasury, error)
	GetPosition(treasury, user solana.PublicKey) (*treasury.Position, error)
}

// AccountReader reads committed ledger accounts.
type AccountReader interface {
	Account(addr solana.PublicKey) (ledger.Account, bool)
}

// SequenceSource reports the last applied processor sequence.
type SequenceSource interface {
	Sequence() int64
}

type treasuryService struct {
	ingest   *ingestion.IngestService
	program  Reader
	accounts AccountReader
	seq      SequenceSource
	query    *query.QueryService
}

func (s *treasuryService) CreateTreasury(ctx context.Context, req *ingestion.CreateTreasuryJSON) (*InstructionResponse, error) {
	res, err := s.ingest.CreateTreasury(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return instructionResponse(res)
}

func (s *treasuryService) Stake(ctx context.Context, req *ingestion.PositionJSON) (*InstructionResponse, error) {
	res, err := s.ingest.Stake(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return instructionResponse(res)
}

func (s *treasuryService) Redeem(ctx context.Context, req *ingestion.PositionJSON) (*InstructionResponse, error) {
	res, err := s.ingest.Redeem(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return instructionResponse(res)
}

func (s *treasuryService) GetTreasury(ctx context.Context, req *GetTreasuryRequest) (*TreasuryView, error) {
	addr, err := parseKey("address", req.Address)
	if err != nil {
		return nil, err
	}
	t, err := s.program.GetTreasury(addr)
	if err != nil {
		return nil, toStatus(err)
	}
	vault, _ := s.accounts.Account(t.TreasuryVault)
	posMint, _ := s.accounts.Account(t.PosMint)
	return &TreasuryView{
		Address:       addr.String(),
		Authority:     t.Authority.String(),
		TreasuryMint:  t.TreasuryMint.String(),
		PosMint:       t.PosMint.String(),
		TreasuryVault: t.TreasuryVault.String(),
		Bump:          t.Bump,
		VaultBump:     t.VaultBump,
		PosMintBump:   t.PosMintBump,
		VaultBalance:  strconv.FormatUint(vault.Amount, 10),
		ReceiptSupply: strconv.FormatUint(posMint.Supply, 10),
		AsOfSequence:  s.seq.Sequence(),
	}, nil
}

func (s *treasuryService) GetBalance(ctx context.Context, req *GetBalanceRequest) (*query.BalanceResponse, error) {
	addr, err := parseKey("address", req.Address)
	if err != nil {
		return nil, err
	}
	if req.AsOfSequence > 0 {
		q, err := s.history()
		if err != nil {
			return nil, err
		}
		resp, err := q.GetBalance(ctx, addr, req.AsOfSequence)
		if err != nil {
			return nil, toStatus(err)
		}
		mint, mintErr := solana.PublicKeyFromBase58(resp.Mint)
		raw, amountErr := strconv.ParseUint(resp.Amount, 10, 64)
		if mintErr == nil && amountErr == nil {
			resp.UIAmount = uiAmount(s.accounts, mint, raw)
		}
		return resp, nil
	}

	acct, ok := s.accounts.Account(addr)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "account %s not found", addr)
	}
	if acct.Kind != ledger.KindToken {
		return nil, status.Errorf(codes.InvalidArgument, "%s is a %s account, not a token account", addr, acct.Kind)
	}
	return balanceView(s.accounts, acct, s.seq.Sequence()), nil
}

func balanceView(accounts AccountReader, acct ledger.Account, seq int64) *query.BalanceResponse {
	return &query.BalanceResponse{
		Address:      acct.Address.String(),
		Owner:        acct.Owner.String(),
		Mint:         acct.Mint.String(),
		Amount:       strconv.FormatUint(acct.Amount, 10),
		UIAmount:     uiAmount(accounts, acct.Mint, acct.Amount),
		AsOfSequence: seq,
	}
}

// uiAmount renders raw units with the mint's decimals, or "" when the mint
// is not in the live ledger.
func uiAmount(accounts AccountReader, mint solana.PublicKey, raw uint64) string {
	m, ok := accounts.Account(mint)
	if !ok || m.Kind != ledger.KindMint {
		return ""
	}
	return fpmath.FormatUnits(raw, m.Decimals)
}

func (s *treasuryService) GetPosition(ctx context.Context, req *GetPositionRequest) (*query.PositionResponse, error) {
	treasuryAddr, err := parseKey("treasury", req.Treasury)
	if err != nil {
		return nil, err
	}
	user, err := parseKey("user", req.User)
	if err != nil {
		return nil, err
	}
	if req.AsOfSequence > 0 {
		q, err := s.history()
		if err != nil {
			return nil, err
		}
		resp, err := q.GetPosition(ctx, treasuryAddr, user, req.AsOfSequence)
		if err != nil {
			return nil, toStatus(err)
		}
		return resp, nil
	}

	pos, err := s.program.GetPosition(treasuryAddr, user)
	if err != nil {
		return nil, toStatus(err)
	}
	return &query.PositionResponse{
		Treasury:     pos.Treasury.String(),
		User:         pos.User.String(),
		UserPosVault: pos.UserPosVault.String(),
		Amount:       strconv.FormatUint(pos.Amount, 10),
		AsOfSequence: s.seq.Sequence(),
	}, nil
}

func (s *treasuryService) ListJournals(ctx context.Context, req *ListJournalsRequest) (*ListJournalsResponse, error) {
	q, err := s.history()
	if err != nil {
		return nil, err
	}
	addr, err := parseKey("address", req.Address)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var after *int64
	if req.AfterSequence > 0 {
		after = &req.AfterSequence
	}
	entries, err := q.GetJournalHistory(ctx, addr, limit, after)
	if err != nil {
		return nil, toStatus(err)
	}
	if entries == nil {
		entries = []query.JournalHistoryEntry{}
	}
	return &ListJournalsResponse{Journals: entries}, nil
}

func (s *treasuryService) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	q, err := s.history()
	if err != nil {
		return nil, err
	}
	report, err := q.VerifyIntegrity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return report, nil
}

func (s *treasuryService) history() (*query.QueryService, error) {
	if s.query == nil {
		return nil, status.Error(codes.FailedPrecondition, "historical queries need the Postgres projection")
	}
	return s.query, nil
}

func instructionResponse(res *core.Result) (*InstructionResponse, error) {
	resp := &InstructionResponse{Duplicate: res.Duplicate}
	if env := res.Envelope; env != nil {
		resp.Sequence = env.Sequence
		resp.LedgerSequence = env.LedgerSequence
		resp.Treasury = env.Treasury.String()
		resp.StateHash = hex.EncodeToString(env.StateHash[:])
	}
	if res.Receipt == nil {
		return resp, nil
	}
	for _, ev := range res.Receipt.Events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode %s: %v", ev.EventName(), err)
		}
		resp.Events = append(resp.Events, EventView{Name: ev.EventName(), Payload: payload})
	}
	return resp, nil
}

func parseKey(field, value string) (solana.PublicKey, error) {
	if value == "" {
		return solana.PublicKey{}, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	k, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return k, nil
}

func parseAmount(field, value string) (uint64, error) {
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return v, nil
}
