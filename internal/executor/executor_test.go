package executor

//go:generate mockgen -source=executor.go -destination=mocks/mocks.go -package=mocks AuditLogger,Approver,Runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/mbd888/sovereign/internal/approval"
	"github.com/mbd888/sovereign/internal/audit"
	"github.com/mbd888/sovereign/internal/executor/mocks"
	"github.com/mbd888/sovereign/internal/logging"
	"github.com/mbd888/sovereign/internal/operation"
)

// =============================================================================
// Executor Test Suite
// =============================================================================
// The pipeline order is the central guarantee of the control plane:
// pre-log, decide, body, outcome log. These tests pin it with gomock.InOrder
// and verify the body is never reached on a denial.

type ExecutorSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	audit    *mocks.MockAuditLogger
	approver *mocks.MockApprover
	body     *mocks.MockRunner
	exec     *Executor
}

func TestExecutorSuite(t *testing.T) {
	suite.Run(t, new(ExecutorSuite))
}

func (s *ExecutorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.audit = mocks.NewMockAuditLogger(s.ctrl)
	s.approver = mocks.NewMockApprover(s.ctrl)
	s.body = mocks.NewMockRunner(s.ctrl)
	s.exec = New(s.audit, s.approver, logging.Discard())
}

func (s *ExecutorSuite) TearDownTest() {
	s.ctrl.Finish()
}

func transfer(amount any) *operation.Request {
	return &operation.Request{
		Type:  operation.TypeTransfer,
		Data:  map[string]any{"amount": amount, "from": "acct_1", "to": "acct_2"},
		Actor: operation.Actor{ID: "user-1"},
	}
}

func logged(id string) *audit.LogResult {
	return &audit.LogResult{Logged: true, EntryID: id, RiskLevel: operation.RiskLow}
}

func (s *ExecutorSuite) TestApprovedRunsInOrder() {
	gomock.InOrder(
		s.audit.EXPECT().Log(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req *operation.Request, _ ...audit.LogOption) *audit.LogResult {
				s.Equal(operation.TypeTransfer, req.Type)
				return logged("aud_1")
			}),
		s.approver.EXPECT().RequestApproval(gomock.Any(), gomock.Any(), "aud_1").
			Return(&approval.Decision{Approved: true, Reason: "ok", RiskLevel: operation.RiskLow}),
		s.body.EXPECT().Run(gomock.Any()).Return("tx_123", nil),
		s.audit.EXPECT().Log(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req *operation.Request, opts ...audit.LogOption) *audit.LogResult {
				s.Equal(operation.Type("TRANSFER_success"), req.Type)
				s.Equal("tx_123", req.Data["result"])
				s.Len(opts, 1)
				return logged("aud_2")
			}),
	)

	res := s.exec.Execute(context.Background(), transfer(500), RunnerBody(s.body))

	s.True(res.Success)
	s.True(res.Approved)
	s.Equal("tx_123", res.Result)
	s.Equal("aud_1", res.LogResult.EntryID)
	s.Equal("aud_2", res.OutcomeLog.EntryID)
	s.Equal("ok", res.ApprovalResult.Reason)
	s.Equal("succeeded", res.Outcome())
}

func (s *ExecutorSuite) TestDenialNeverRunsBody() {
	gomock.InOrder(
		s.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Return(logged("aud_1")),
		s.approver.EXPECT().RequestApproval(gomock.Any(), gomock.Any(), "aud_1").
			Return(&approval.Decision{Approved: false, Reason: "policy violation", StatusCode: 403}),
	)
	s.body.EXPECT().Run(gomock.Any()).Times(0)

	res := s.exec.Execute(context.Background(), transfer(500), RunnerBody(s.body))

	s.False(res.Success)
	s.False(res.Approved)
	s.Equal("policy violation", res.Reason)
	s.Nil(res.OutcomeLog)
	s.Equal("denied", res.Outcome())
}

func (s *ExecutorSuite) TestBodyErrorIsLoggedAsFailed() {
	gomock.InOrder(
		s.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Return(logged("aud_1")),
		s.approver.EXPECT().RequestApproval(gomock.Any(), gomock.Any(), "aud_1").
			Return(&approval.Decision{Approved: true, Reason: "ok"}),
		s.body.EXPECT().Run(gomock.Any()).Return(nil, errors.New("insufficient liquidity")),
		s.audit.EXPECT().Log(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req *operation.Request, _ ...audit.LogOption) *audit.LogResult {
				s.Equal(operation.Type("TRANSFER_failed"), req.Type)
				s.Equal("insufficient liquidity", req.Data["error"])
				return logged("aud_2")
			}),
	)

	res := s.exec.Execute(context.Background(), transfer(500), RunnerBody(s.body))

	s.False(res.Success)
	s.True(res.Approved)
	s.Equal("insufficient liquidity", res.Error)
	s.Equal("failed", res.Outcome())
}

func (s *ExecutorSuite) TestBodyPanicIsRecovered() {
	gomock.InOrder(
		s.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Return(logged("aud_1")),
		s.approver.EXPECT().RequestApproval(gomock.Any(), gomock.Any(), "aud_1").
			Return(&approval.Decision{Approved: true, Reason: "ok"}),
		s.audit.EXPECT().Log(gomock.Any(), gomock.Any(), gomock.Any()).Return(logged("aud_2")),
	)

	var res *Result
	s.NotPanics(func() {
		res = s.exec.Execute(context.Background(), transfer(500), func(context.Context) (any, error) {
			panic("nil map write")
		})
	})
	s.False(res.Success)
	s.True(res.Approved)
	s.Contains(res.Error, "operation panicked")
}

func (s *ExecutorSuite) TestPreLogFailureStillDecides() {
	gomock.InOrder(
		s.audit.EXPECT().Log(gomock.Any(), gomock.Any()).
			Return(&audit.LogResult{Logged: false, Reason: "persistence failed", Error: "connection refused"}),
		s.approver.EXPECT().RequestApproval(gomock.Any(), gomock.Any(), "").
			Return(&approval.Decision{Approved: true, Reason: "ok"}),
		s.body.EXPECT().Run(gomock.Any()).Return(1, nil),
		s.audit.EXPECT().Log(gomock.Any(), gomock.Any(), gomock.Any()).Return(logged("aud_2")),
	)

	res := s.exec.Execute(context.Background(), transfer(500), RunnerBody(s.body))

	s.True(res.Success)
	s.False(res.LogResult.Logged)
	s.Equal("connection refused", res.LogResult.Error)
}

func (s *ExecutorSuite) TestNilDecisionIsDenial() {
	s.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Return(logged("aud_1"))
	s.approver.EXPECT().RequestApproval(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	s.body.EXPECT().Run(gomock.Any()).Times(0)

	res := s.exec.Execute(context.Background(), transfer(500), RunnerBody(s.body))
	s.False(res.Approved)
	s.NotEmpty(res.Reason)
}

func (s *ExecutorSuite) TestMissingBody() {
	gomock.InOrder(
		s.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Return(logged("aud_1")),
		s.approver.EXPECT().RequestApproval(gomock.Any(), gomock.Any(), "aud_1").
			Return(&approval.Decision{Approved: true, Reason: "ok"}),
		s.audit.EXPECT().Log(gomock.Any(), gomock.Any(), gomock.Any()).Return(logged("aud_2")),
	)

	res := s.exec.Execute(context.Background(), transfer(500), nil)
	s.False(res.Success)
	s.Equal(ErrNoBody.Error(), res.Error)
}

func (s *ExecutorSuite) TestEvaluateDoesNotRun() {
	gomock.InOrder(
		s.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Return(logged("aud_1")),
		s.approver.EXPECT().RequestApproval(gomock.Any(), gomock.Any(), "aud_1").
			Return(&approval.Decision{Approved: true, Reason: "ok", RequiresManualReview: true}),
	)

	ev := s.exec.Evaluate(context.Background(), transfer(15000))
	s.True(ev.Decision.Approved)
	s.True(ev.Decision.RequiresManualReview)
	s.Equal("aud_1", ev.LogResult.EntryID)
}

func (s *ExecutorSuite) TestRequestIsNotMutated() {
	s.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Return(logged("aud_1"))
	s.approver.EXPECT().RequestApproval(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *operation.Request, _ string) *approval.Decision {
			s.False(req.Context.RequestedAt.IsZero())
			return &approval.Decision{Approved: false, Reason: "no"}
		})

	req := transfer(500)
	s.exec.Execute(context.Background(), req, nil)
	s.True(req.Context.RequestedAt.IsZero())
}
