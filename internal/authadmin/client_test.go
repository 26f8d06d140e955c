package authadmin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/supa-backup/internal/platform"
)

func TestListUsersPaginates(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/admin/users", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pages = append(pages, r.URL.Query().Get("page"))

		var users []string
		switch page {
		case 1:
			users = []string{`{"id":"u1","email":"a@x.io","identities":[{"provider":"email"}]}`, `{"id":"u2","phone":"+15550100"}`}
		case 2:
			users = []string{`{"id":"u3","email":"c@x.io","user_metadata":{"plan":"pro"}}`}
		}
		fmt.Fprintf(w, `{"aud":"authenticated","users":[%s]}`, strings.Join(users, ","))
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/", "secret", 2, 0)
	require.NoError(t, err)
	users, err := c.ListUsers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2"}, pages)
	require.Len(t, users, 3)
	assert.Equal(t, "a@x.io", users[0].Label())
	assert.Equal(t, "+15550100", users[1].Label())
	assert.Equal(t, "pro", users[2].UserMetadata["plan"])
	assert.JSONEq(t, `{"id":"u1","email":"a@x.io","identities":[{"provider":"email"}]}`, string(users[0].Raw))
}

func TestListUsersStopsOnEmptyFullPage(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			fmt.Fprint(w, `{"users":[{"id":"u1"}]}`)
			return
		}
		fmt.Fprint(w, `{"users":[]}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "secret", 1, 0)
	require.NoError(t, err)
	users, err := c.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 2, calls)
}

func TestCreateUser(t *testing.T) {
	var mu sync.Mutex
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		mu.Lock()
		defer mu.Unlock()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"id":"new"}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "secret", 0, 0)
	require.NoError(t, err)
	err = c.CreateUser(context.Background(), platform.NewUserFrom(platform.User{Email: "a@x.io"}))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "a@x.io", got["email"])
	assert.Equal(t, true, got["email_confirm"])
	assert.Equal(t, map[string]any{}, got["user_metadata"])
}

func TestCreateUserConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"msg":"A user with this email address has already been registered"}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "secret", 0, 0)
	require.NoError(t, err)
	err = c.CreateUser(context.Background(), platform.NewUser{Email: "a@x.io"})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.Code)
	assert.Contains(t, err.Error(), "a@x.io")
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New("https://abc.supabase.co", "", 0, 0)
	assert.ErrorIs(t, err, platform.ErrNotConfigured)
}
