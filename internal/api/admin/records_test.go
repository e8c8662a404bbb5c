package admin

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenant-service/tenant-service/internal/collections"
)

type recordPage struct {
	Records    []collections.Record `json:"records"`
	Pagination struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
		Count  int `json:"count"`
	} `json:"pagination"`
}

func TestRecords_ScopedToTokenOrganization(t *testing.T) {
	e := newEnv(t)
	acme := e.createAndLogin(t, "Acme Corp", "admin@acme.com")
	other := e.createAndLogin(t, "Other Co", "admin@other.co")

	for _, sku := range []string{"A-1", "A-2"} {
		w := e.do(t, http.MethodPost, "/org/records", acme, gin.H{"sku": sku})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		rec := decode[collections.Record](t, w)
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, sku, rec.Data["sku"])
	}

	w := e.do(t, http.MethodGet, "/org/records", acme, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[recordPage](t, w)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "A-1", page.Records[0].Data["sku"])

	w = e.do(t, http.MethodGet, "/org/records", other, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[recordPage](t, w)
	assert.NotNil(t, page.Records)
	assert.Empty(t, page.Records)
}

func TestRecords_Pagination(t *testing.T) {
	e := newEnv(t)
	token := e.createAndLogin(t, "Acme Corp", "admin@acme.com")
	for i := range 5 {
		w := e.do(t, http.MethodPost, "/org/records", token, gin.H{"n": i})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := e.do(t, http.MethodGet, "/org/records?limit=2&offset=3", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[recordPage](t, w)
	require.Len(t, page.Records, 2)
	assert.EqualValues(t, 3, page.Records[0].Data["n"])
	assert.Equal(t, 2, page.Pagination.Limit)
	assert.Equal(t, 3, page.Pagination.Offset)

	w = e.do(t, http.MethodGet, "/org/records?limit=100000&offset=-4", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[recordPage](t, w)
	assert.Equal(t, 100, page.Pagination.Limit)
	assert.Equal(t, 0, page.Pagination.Offset)
	assert.Len(t, page.Records, 5)
}

func TestRecords_RejectsNonObjectBody(t *testing.T) {
	e := newEnv(t)
	token := e.createAndLogin(t, "Acme Corp", "admin@acme.com")

	w := e.do(t, http.MethodPost, "/org/records", token, []int{1, 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecords_RequireToken(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/org/records", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
