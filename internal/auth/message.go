package auth

import (
	"fmt"
	"time"

	"github.com/walletguard/walletguard/pkg/types"
)

// actionDescriptions maps each purpose to the action line of the signed
// message. These strings are part of the signature contract; changing one
// invalidates every outstanding challenge for that purpose.
var actionDescriptions = map[types.Purpose]string{
	types.PurposeUnlock:          "Unlock trading session",
	types.PurposeRevealMnemonic:  "Reveal recovery phrase",
	types.PurposeEnableExecution: "Enable automated execution",
	types.PurposeRevokeExecution: "Disable automated execution",
}

// BuildSignMessage renders the canonical text a wallet signs for a
// challenge. Issuance and verification both call this function; the two
// sides never format the message independently.
func BuildSignMessage(walletAddress string, purpose types.Purpose, nonce string, expiresAt time.Time) string {
	action, ok := actionDescriptions[purpose]
	if !ok {
		action = string(purpose)
	}
	return fmt.Sprintf(
		"walletguard wants you to sign in with your wallet:\n%s\n\nAction: %s\nNonce: %s\nExpires: %s",
		walletAddress,
		action,
		nonce,
		expiresAt.UTC().Format(time.RFC3339),
	)
}
