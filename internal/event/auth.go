package event

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

const messageDomain = "treasury-ledger/v1"

// Auth is the signing block every instruction carries. Nonce must increase
// per signer; InstructionID is the idempotency key.
type Auth struct {
	InstructionID uuid.UUID        `json:"instruction_id"`
	Signer        solana.PublicKey `json:"signer"`
	Nonce         uint64           `json:"nonce"`
	Signature     solana.Signature `json:"signature"`
}

func (a *Auth) IdempotencyKey() string {
	return a.InstructionID.String()
}

func (a *Auth) Authorization() *Auth {
	return a
}

// Sign sets the signer and signs the instruction's canonical message.
func Sign(instr Instruction, key solana.PrivateKey) error {
	auth := instr.Authorization()
	auth.Signer = key.PublicKey()
	sig, err := key.Sign(instr.Message())
	if err != nil {
		return fmt.Errorf("sign %s: %w", instr.InstructionType(), err)
	}
	auth.Signature = sig
	return nil
}

// VerifySignature reports whether the signature matches the signer and message.
func VerifySignature(instr Instruction) bool {
	auth := instr.Authorization()
	return auth.Signature.Verify(auth.Signer, instr.Message())
}

// messageWriter builds the canonical signed bytes. The signature itself is
// never part of the message.
type messageWriter struct {
	buf []byte
}

func newMessage(t InstructionType, auth *Auth) *messageWriter {
	w := &messageWriter{buf: make([]byte, 0, 256)}
	w.buf = append(w.buf, messageDomain...)
	w.buf = append(w.buf, byte(t))
	w.buf = append(w.buf, auth.InstructionID[:]...)
	w.key(auth.Signer)
	w.u64(auth.Nonce)
	return w
}

func (w *messageWriter) key(k solana.PublicKey) *messageWriter {
	w.buf = append(w.buf, k[:]...)
	return w
}

func (w *messageWriter) u64(v uint64) *messageWriter {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	return w
}

func (w *messageWriter) bytes() []byte {
	return w.buf
}
