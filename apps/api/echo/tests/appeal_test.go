package tests

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-eligibility/core/appeal"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
)

var reason = strings.Repeat("Our enrollment figures were misread by the reviewer. ", 2)

type appealPage struct {
	Data       []appeal.Appeal `json:"data"`
	Pagination struct {
		Total int `json:"total"`
	} `json:"pagination"`
}

func rejected(t *testing.T, e *env, slug string) eligibility.Tenant {
	t.Helper()
	tnt := registered(t, e, slug, true)
	e.call(t, http.MethodPatch, "/v1/verification/"+tnt.ID+"/decision", adminToken(t),
		eligibility.Decision{Action: eligibility.ActionReject, ReviewNotes: "accreditation expired"}, http.StatusOK, &tnt)
	return tnt
}

func Test_appealApi_lifecycle(t *testing.T) {
	e := setup(t)
	admin := adminToken(t)
	tnt := rejected(t, e, "greenfield")
	owner := tenantToken(t, tnt.ID)
	submission := appeal.NewAppeal{
		Type:                appeal.TypeEligibility,
		Reason:              reason,
		SupportingDocuments: []string{"https://files.masomo.dev/enrollment.pdf"},
	}

	var a appeal.Appeal
	e.call(t, http.MethodPost, "/v1/tenants/"+tnt.ID+"/appeal", owner, submission, http.StatusCreated, &a)
	assert.Equal(t, appeal.StatusPending, a.Status)
	assert.Equal(t, eligibility.StatusRejected, a.OriginalDecision)

	var mine []appeal.Appeal
	e.call(t, http.MethodGet, "/v1/tenants/"+tnt.ID+"/appeal", owner, nil, http.StatusOK, &mine)
	require.Len(t, mine, 1)

	var open appealPage
	e.call(t, http.MethodGet, "/v1/appeals?status=pending", admin, nil, http.StatusOK, &open)
	require.Len(t, open.Data, 1)
	assert.Equal(t, a.ID, open.Data[0].ID)

	runTests(t, e, []httpTest{
		{
			name:     "second open appeal",
			method:   http.MethodPost,
			path:     "/v1/tenants/" + tnt.ID + "/appeal",
			body:     submission,
			token:    owner,
			wantCode: http.StatusConflict,
		},
		{
			name:     "short reason",
			method:   http.MethodPost,
			path:     "/v1/tenants/" + tnt.ID + "/appeal",
			body:     appeal.NewAppeal{Reason: "please"},
			token:    owner,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "review as tenant user",
			method:   http.MethodPatch,
			path:     "/v1/appeals/" + a.ID + "/decision",
			body:     appeal.Review{Decision: appeal.StatusApproved},
			token:    owner,
			wantCode: http.StatusForbidden,
		},
		{
			name:     "rejection without notes",
			method:   http.MethodPatch,
			path:     "/v1/appeals/" + a.ID + "/decision",
			body:     appeal.Review{Decision: appeal.StatusRejected},
			token:    admin,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown appeal",
			method:   http.MethodPatch,
			path:     "/v1/appeals/nope/decision",
			body:     appeal.Review{Decision: appeal.StatusApproved},
			token:    admin,
			wantCode: http.StatusNotFound,
		},
	})

	var reviewed appeal.Appeal
	e.call(t, http.MethodPatch, "/v1/appeals/"+a.ID+"/decision", admin,
		appeal.Review{Decision: appeal.StatusApproved, ReviewNotes: "figures confirmed"}, http.StatusOK, &reviewed)
	assert.Equal(t, appeal.StatusApproved, reviewed.Status)
	assert.Equal(t, adminActor.ID, reviewed.ReviewedBy)

	var got eligibility.Tenant
	e.call(t, http.MethodGet, "/v1/tenants/"+tnt.ID, owner, nil, http.StatusOK, &got)
	assert.Equal(t, eligibility.StatusEligible, got.Status)

	// resolved appeals stay resolved
	rec := e.do(t, http.MethodPatch, "/v1/appeals/"+a.ID+"/decision", admin, appeal.Review{Decision: appeal.StatusRejected, ReviewNotes: "changed my mind"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	e.call(t, http.MethodGet, "/v1/appeals", admin, nil, http.StatusOK, &open)
	assert.Empty(t, open.Data)
	e.call(t, http.MethodGet, "/v1/appeals?status=approved", admin, nil, http.StatusOK, &open)
	assert.Len(t, open.Data, 1)

	var stats appeal.Stats
	e.call(t, http.MethodGet, "/v1/appeals/stats", admin, nil, http.StatusOK, &stats)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 1, stats.ByType[appeal.TypeEligibility])
}

func Test_appealApi_preconditions(t *testing.T) {
	e := setup(t)
	tnt := registered(t, e, "greenfield", false)

	rec := e.do(t, http.MethodPost, "/v1/tenants/"+tnt.ID+"/appeal", tenantToken(t, tnt.ID), appeal.NewAppeal{Reason: reason})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/v1/appeals?status=lost", adminToken(t), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_appealApi_rateLimit(t *testing.T) {
	e := setup(t, 1)
	tnt := rejected(t, e, "greenfield")
	owner := tenantToken(t, tnt.ID)

	rec := e.do(t, http.MethodPost, "/v1/tenants/"+tnt.ID+"/appeal", owner, appeal.NewAppeal{Reason: reason})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/v1/tenants/"+tnt.ID+"/appeal", owner, appeal.NewAppeal{Reason: reason})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// reads are not limited
	rec = e.do(t, http.MethodGet, "/v1/tenants/"+tnt.ID+"/appeal", owner, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
