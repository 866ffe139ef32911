package followupboss

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPeople_BasicAuthAndDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "fub-key", user)
		assert.Empty(t, pass)

		json.NewEncoder(w).Encode(map[string]any{
			"people": []map[string]any{
				{
					"id":   1,
					"name": "Jane Smith",
					"phones": []map[string]string{{"value": "+15550001111"}},
					"emails": []map[string]string{{"value": "jane@acme.com"}},
					"socialData": map[string]string{"company": "Acme Realty"},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("fub-key", WithBaseURL(srv.URL))
	people, err := c.ListPeople(context.Background())
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, "Jane Smith", people[0].Name)
	assert.Equal(t, "Acme Realty", people[0].SocialData.Company)
	assert.Equal(t, "+15550001111", people[0].Phones[0].Value)
}

func TestListPeople_FollowsPagination(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			json.NewEncoder(w).Encode(map[string]any{
				"people": []map[string]any{{"id": 2, "name": "Bob Lee"}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"people":    []map[string]any{{"id": 1, "name": "Jane Smith"}},
			"_metadata": map[string]string{"nextLink": srv.URL + "/people?page=2"},
		})
	}))
	defer srv.Close()

	c := NewClient("fub-key", WithBaseURL(srv.URL))
	people, err := c.ListPeople(context.Background())
	require.NoError(t, err)
	require.Len(t, people, 2)
	assert.Equal(t, "Jane Smith", people[0].Name)
	assert.Equal(t, "Bob Lee", people[1].Name)
}

func TestListPeople_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"people": []map[string]any{{"id": 1, "name": "Jane Smith"}},
		})
	}))
	defer srv.Close()

	c := NewClient("fub-key", WithBaseURL(srv.URL))
	people, err := c.ListPeople(context.Background())
	require.NoError(t, err)
	assert.Len(t, people, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestListPeople_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"errorMessage":"Invalid API key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := c.ListPeople(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestDraftFromPerson(t *testing.T) {
	p := Person{
		Name:       "Jane Smith",
		Phones:     []Entry{{Value: "+15550001111"}, {Value: "+15550009999"}},
		Emails:     []Entry{{Value: "jane@acme.com"}},
		SocialData: SocialData{Company: "Acme Realty"},
	}
	d := DraftFromPerson(p)
	assert.Equal(t, "Acme Realty", d.CompanyName)
	assert.Equal(t, "Jane Smith", d.ContactName)
	assert.Equal(t, "+15550001111", d.Phone, "first phone wins")
	assert.Equal(t, "jane@acme.com", d.Email)
	assert.Equal(t, "CRM", d.Source)
}

func TestDraftFromPerson_NameFallback(t *testing.T) {
	p := Person{
		FirstName: "Bob",
		LastName:  "Lee",
		Phones:    []Entry{{Value: "+15550002222"}},
		Emails:    []Entry{{Value: "bob@bolt.com"}},
	}
	d := DraftFromPerson(p)
	assert.Equal(t, "Bob Lee", d.ContactName)
	// No company on file: the contact name stands in.
	assert.Equal(t, "Bob Lee", d.CompanyName)
}

func TestDraftFromPerson_MissingContactInfo(t *testing.T) {
	for i, p := range []Person{
		{Name: "No Phone", Emails: []Entry{{Value: "x@y.com"}}},
		{Name: "No Email", Phones: []Entry{{Value: "+15550001111"}}},
		{Phones: []Entry{{Value: "+15550001111"}}, Emails: []Entry{{Value: "x@y.com"}}},
	} {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			assert.Empty(t, DraftFromPerson(p).Phone)
		})
	}
}
