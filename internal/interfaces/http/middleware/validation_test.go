package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erp/procurement/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentBody struct {
	Total      json.Number `json:"total" binding:"required,money"`
	Collection string      `json:"collection" binding:"omitempty,collection_name"`
	Direction  string      `json:"direction" binding:"omitempty,oneof=asc desc"`
}

func validationEngine() *gin.Engine {
	SetupValidator()
	r := gin.New()
	r.Use(RequestID())
	r.POST("/test", func(c *gin.Context) {
		var req paymentBody
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.NewSuccessResponse(req.Total.String()))
	})
	return r
}

func postJSON(r *gin.Engine, body string) (*httptest.ResponseRecorder, dto.Response) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := serve(r, req)
	var resp dto.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestSetupValidator_Money(t *testing.T) {
	r := validationEngine()

	cases := []struct {
		name  string
		body  string
		valid bool
	}{
		{"number", `{"total": 150}`, true},
		{"decimal string", `{"total": "99.95"}`, true},
		{"zero", `{"total": 0}`, false},
		{"negative", `{"total": -5}`, false},
		{"not a number", `{"total": "abc"}`, false},
		{"missing", `{}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, resp := postJSON(r, tc.body)

			if tc.valid {
				assert.Equal(t, http.StatusOK, w.Code)
				assert.True(t, resp.Success)
				return
			}
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, resp.Success)
		})
	}
}

func TestHandleValidationError(t *testing.T) {
	r := validationEngine()

	t.Run("reports fields by json name", func(t *testing.T) {
		w, resp := postJSON(r, `{"total": 0, "collection": "budgets/x", "direction": "up"}`)

		require.Equal(t, http.StatusBadRequest, w.Code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		assert.NotEmpty(t, resp.Error.RequestID)

		messages := map[string]string{}
		for _, d := range resp.Error.Details {
			messages[d.Field] = d.Message
		}
		assert.Equal(t, "Must be a positive amount", messages["total"])
		assert.Equal(t, "Invalid collection name", messages["collection"])
		assert.Equal(t, "Must be one of: asc desc", messages["direction"])
	})

	t.Run("malformed body", func(t *testing.T) {
		w, resp := postJSON(r, `{"total": `)

		require.Equal(t, http.StatusBadRequest, w.Code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeInvalidJSON, resp.Error.Code)
		assert.Empty(t, resp.Error.Details)
	})
}
