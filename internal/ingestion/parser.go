package ingestion

import (
	"TreasuryLedger/internal/event"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

var ErrMalformed = errors.New("malformed instruction")

// ParseInstruction converts a JSON wire payload into a typed instruction.
// Signatures are not checked here; the program verifies them.
func ParseInstruction(instructionType string, data []byte) (event.Instruction, error) {
	switch instructionType {
	case event.InstructionTypeCreateTreasury.String():
		var j CreateTreasuryJSON
		if err := decode(data, &j); err != nil {
			return nil, err
		}
		return j.ToInstruction()
	case event.InstructionTypeStake.String():
		var j PositionJSON
		if err := decode(data, &j); err != nil {
			return nil, err
		}
		return j.ToStake()
	case event.InstructionTypeRedeem.String():
		var j PositionJSON
		if err := decode(data, &j); err != nil {
			return nil, err
		}
		return j.ToRedeem()
	default:
		return nil, fmt.Errorf("%w: unknown instruction type %q", ErrMalformed, instructionType)
	}
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// --- JSON wire formats ---
// Keys and signatures are base58, amounts and nonces decimal strings.
// Field names use snake_case to match upstream producers.

type AuthJSON struct {
	InstructionID string `json:"instruction_id"`
	Signer        string `json:"signer"`
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
}

type CreateTreasuryJSON struct {
	AuthJSON
	TreasuryMint  string `json:"treasury_mint"`
	Authority     string `json:"authority"`
	Treasury      string `json:"treasury,omitempty"`
	TreasuryVault string `json:"treasury_vault,omitempty"`
	PosMint       string `json:"pos_mint,omitempty"`
}

// PositionJSON carries both Stake and Redeem.
type PositionJSON struct {
	AuthJSON
	Treasury      string `json:"treasury"`
	User          string `json:"user"`
	UserVault     string `json:"user_vault"`
	TreasuryVault string `json:"treasury_vault,omitempty"`
	PosMint       string `json:"pos_mint,omitempty"`
	UserPosVault  string `json:"user_pos_vault,omitempty"`
	Amount        string `json:"amount"`
}

func (j *AuthJSON) toAuth() (event.Auth, error) {
	var auth event.Auth
	id, err := uuid.Parse(j.InstructionID)
	if err != nil {
		return auth, fmt.Errorf("%w: instruction_id: %v", ErrMalformed, err)
	}
	signer, err := parseKey("signer", j.Signer, true)
	if err != nil {
		return auth, err
	}
	nonce, err := parseUint("nonce", j.Nonce)
	if err != nil {
		return auth, err
	}
	sig, err := solana.SignatureFromBase58(j.Signature)
	if err != nil {
		return auth, fmt.Errorf("%w: signature: %v", ErrMalformed, err)
	}
	return event.Auth{InstructionID: id, Signer: signer, Nonce: nonce, Signature: sig}, nil
}

func (j *CreateTreasuryJSON) ToInstruction() (*event.CreateTreasury, error) {
	auth, err := j.toAuth()
	if err != nil {
		return nil, err
	}
	in := &event.CreateTreasury{Auth: auth}
	fields := []struct {
		name     string
		value    string
		required bool
		dst      *solana.PublicKey
	}{
		{"treasury_mint", j.TreasuryMint, true, &in.TreasuryMint},
		{"authority", j.Authority, true, &in.Authority},
		{"treasury", j.Treasury, false, &in.Treasury},
		{"treasury_vault", j.TreasuryVault, false, &in.TreasuryVault},
		{"pos_mint", j.PosMint, false, &in.PosMint},
	}
	for _, f := range fields {
		if *f.dst, err = parseKey(f.name, f.value, f.required); err != nil {
			return nil, err
		}
	}
	return in, nil
}

func (j *PositionJSON) ToStake() (*event.Stake, error) {
	auth, pos, err := j.parse()
	if err != nil {
		return nil, err
	}
	return &event.Stake{Auth: auth, Position: pos}, nil
}

func (j *PositionJSON) ToRedeem() (*event.Redeem, error) {
	auth, pos, err := j.parse()
	if err != nil {
		return nil, err
	}
	return &event.Redeem{Auth: auth, Position: pos}, nil
}

func (j *PositionJSON) parse() (event.Auth, event.Position, error) {
	var pos event.Position
	auth, err := j.toAuth()
	if err != nil {
		return auth, pos, err
	}
	fields := []struct {
		name     string
		value    string
		required bool
		dst      *solana.PublicKey
	}{
		{"treasury", j.Treasury, true, &pos.Treasury},
		{"user", j.User, true, &pos.User},
		{"user_vault", j.UserVault, true, &pos.UserVault},
		{"treasury_vault", j.TreasuryVault, false, &pos.TreasuryVault},
		{"pos_mint", j.PosMint, false, &pos.PosMint},
		{"user_pos_vault", j.UserPosVault, false, &pos.UserPosVault},
	}
	for _, f := range fields {
		if *f.dst, err = parseKey(f.name, f.value, f.required); err != nil {
			return auth, pos, err
		}
	}
	if pos.Amount, err = parseUint("amount", j.Amount); err != nil {
		return auth, pos, err
	}
	return auth, pos, nil
}

// --- encoding, used by clients and tests ---

func authJSON(a *event.Auth) AuthJSON {
	return AuthJSON{
		InstructionID: a.InstructionID.String(),
		Signer:        a.Signer.String(),
		Nonce:         strconv.FormatUint(a.Nonce, 10),
		Signature:     a.Signature.String(),
	}
}

func EncodeCreateTreasury(in *event.CreateTreasury) CreateTreasuryJSON {
	return CreateTreasuryJSON{
		AuthJSON:      authJSON(&in.Auth),
		TreasuryMint:  in.TreasuryMint.String(),
		Authority:     in.Authority.String(),
		Treasury:      optionalKey(in.Treasury),
		TreasuryVault: optionalKey(in.TreasuryVault),
		PosMint:       optionalKey(in.PosMint),
	}
}

func EncodePosition(auth *event.Auth, p *event.Position) PositionJSON {
	return PositionJSON{
		AuthJSON:      authJSON(auth),
		Treasury:      p.Treasury.String(),
		User:          p.User.String(),
		UserVault:     p.UserVault.String(),
		TreasuryVault: optionalKey(p.TreasuryVault),
		PosMint:       optionalKey(p.PosMint),
		UserPosVault:  optionalKey(p.UserPosVault),
		Amount:        strconv.FormatUint(p.Amount, 10),
	}
}

// EncodeInstruction renders any instruction in its wire format.
func EncodeInstruction(instr event.Instruction) ([]byte, error) {
	switch in := instr.(type) {
	case *event.CreateTreasury:
		return json.Marshal(EncodeCreateTreasury(in))
	case *event.Stake:
		return json.Marshal(EncodePosition(&in.Auth, &in.Position))
	case *event.Redeem:
		return json.Marshal(EncodePosition(&in.Auth, &in.Position))
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrMalformed, instr)
	}
}

func optionalKey(k solana.PublicKey) string {
	if k.IsZero() {
		return ""
	}
	return k.String()
}

func parseKey(field, value string, required bool) (solana.PublicKey, error) {
	if value == "" {
		if required {
			return solana.PublicKey{}, fmt.Errorf("%w: %s is required", ErrMalformed, field)
		}
		return solana.PublicKey{}, nil
	}
	k, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %s: %v", ErrMalformed, field, err)
	}
	return k, nil
}

func parseUint(field, value string) (uint64, error) {
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrMalformed, field, err)
	}
	return v, nil
}
