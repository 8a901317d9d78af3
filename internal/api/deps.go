package api

import (
	"context"

	"github.com/walletguard/walletguard/internal/app"
	"github.com/walletguard/walletguard/internal/auth"
	"github.com/walletguard/walletguard/internal/custody"
)

// CustodyService is the subset of app.CustodyService used by the API layer.
// It is an interface to allow handler-level unit tests without a database or
// key material.
type CustodyService interface {
	IssueChallenge(ctx context.Context, req *app.ChallengeRequest) (*auth.IssuedChallenge, error)
	Unlock(ctx context.Context, req *app.UnlockRequest) (*app.UnlockResponse, error)
	GetSession(ctx context.Context, token string) (*app.SessionInfo, error)
	EndSession(ctx context.Context, token string) error

	EnableExecution(ctx context.Context, req *app.ExecutionChangeRequest) (*custody.ExecutionStatus, error)
	RevokeExecution(ctx context.Context, req *app.ExecutionChangeRequest) (*custody.ExecutionStatus, error)
	ExecutionStatus(ctx context.Context, sessionToken, walletAddress string) (*custody.ExecutionStatus, error)
	EmergencyStop(ctx context.Context, req *app.EmergencyStopRequest) (*custody.ExecutionStatus, error)
	ClearEmergencyStop(ctx context.Context, req *app.EmergencyStopRequest) (*custody.ExecutionStatus, error)

	ProvisionMnemonic(ctx context.Context, req *app.MnemonicRequest) (*custody.ProvisionResult, error)
	ImportMnemonic(ctx context.Context, req *app.ImportMnemonicRequest) (*custody.ProvisionResult, error)
	RevealMnemonic(ctx context.Context, req *app.RevealRequest) (*custody.RevealResult, error)

	CommitPolicy(ctx context.Context, req *app.PolicyRequest) (*app.PolicyCommitResponse, error)
	VerifyPolicy(ctx context.Context, req *app.PolicyRequest) (*app.PolicyVerifyResponse, error)
}
