package server

import (
	"TreasuryLedger/internal/ledger"
	fpmath "TreasuryLedger/internal/math"
	"TreasuryLedger/internal/query"
	"context"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FaucetServiceServer is the server API for treasury.v1.FaucetService. It
// is only registered in development deployments.
type FaucetServiceServer interface {
	Airdrop(context.Context, *AirdropRequest) (*AirdropResponse, error)
	CreateMint(context.Context, *CreateMintRequest) (*AccountResponse, error)
	CreateTokenAccount(context.Context, *CreateTokenAccountRequest) (*AccountResponse, error)
	MintTo(context.Context, *MintToRequest) (*query.BalanceResponse, error)
}

// Faucet is the subset of ledger client operations exposed for funding
// test wallets.
type Faucet interface {
	AccountReader
	Airdrop(ctx context.Context, to solana.PublicKey, lamports uint64) error
	CreateMint(ctx context.Context, payer solana.PublicKey, decimals uint8, authority solana.PublicKey) (solana.PublicKey, error)
	CreateTokenAccount(ctx context.Context, payer, mint, owner solana.PublicKey) (solana.PublicKey, error)
	MintTo(ctx context.Context, mint, to solana.PublicKey, amount uint64, authority solana.PublicKey) error
}

type faucetService struct {
	ledger Faucet
	seq    SequenceSource
}

func (s *faucetService) Airdrop(ctx context.Context, req *AirdropRequest) (*AirdropResponse, error) {
	to, err := parseKey("address", req.Address)
	if err != nil {
		return nil, err
	}
	lamports, err := parseAmount("lamports", req.Lamports)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Airdrop(ctx, to, lamports); err != nil {
		return nil, toStatus(err)
	}
	acct, _ := s.ledger.Account(to)
	return &AirdropResponse{Address: to.String(), Lamports: strconv.FormatUint(acct.Lamports, 10)}, nil
}

func (s *faucetService) CreateMint(ctx context.Context, req *CreateMintRequest) (*AccountResponse, error) {
	payer, err := parseKey("payer", req.Payer)
	if err != nil {
		return nil, err
	}
	authority, err := parseKey("authority", req.Authority)
	if err != nil {
		return nil, err
	}
	mint, err := s.ledger.CreateMint(ctx, payer, req.Decimals, authority)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AccountResponse{Address: mint.String()}, nil
}

func (s *faucetService) CreateTokenAccount(ctx context.Context, req *CreateTokenAccountRequest) (*AccountResponse, error) {
	payer, err := parseKey("payer", req.Payer)
	if err != nil {
		return nil, err
	}
	mint, err := parseKey("mint", req.Mint)
	if err != nil {
		return nil, err
	}
	owner, err := parseKey("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	addr, err := s.ledger.CreateTokenAccount(ctx, payer, mint, owner)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AccountResponse{Address: addr.String()}, nil
}

func (s *faucetService) MintTo(ctx context.Context, req *MintToRequest) (*query.BalanceResponse, error) {
	mint, err := parseKey("mint", req.Mint)
	if err != nil {
		return nil, err
	}
	to, err := parseKey("to", req.To)
	if err != nil {
		return nil, err
	}
	authority, err := parseKey("authority", req.Authority)
	if err != nil {
		return nil, err
	}
	amount, err := s.mintAmount(mint, req)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.MintTo(ctx, mint, to, amount, authority); err != nil {
		return nil, toStatus(err)
	}
	acct, _ := s.ledger.Account(to)
	return balanceView(s.ledger, acct, s.seq.Sequence()), nil
}

func (s *faucetService) mintAmount(mint solana.PublicKey, req *MintToRequest) (uint64, error) {
	switch {
	case req.Amount != "" && req.UIAmount != "":
		return 0, status.Error(codes.InvalidArgument, "set amount or ui_amount, not both")
	case req.UIAmount == "":
		return parseAmount("amount", req.Amount)
	}
	m, ok := s.ledger.Account(mint)
	if !ok || m.Kind != ledger.KindMint {
		return 0, status.Errorf(codes.NotFound, "mint %s not found", mint)
	}
	amount, err := fpmath.ParseUnits(req.UIAmount, m.Decimals)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid ui_amount: %v", err)
	}
	return amount, nil
}
