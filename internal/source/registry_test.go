package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saultoio/saulto-sync/internal/credentials"
)

type stubConnector struct {
	name string
}

func (c *stubConnector) Name() string                  { return c.name }
func (c *stubConnector) Entities() []string            { return nil }
func (c *stubConnector) RequiredCredentials() []string { return nil }

func (c *stubConnector) TestConnection(ctx context.Context, token credentials.Token, config map[string]string) error {
	return nil
}

func (c *stubConnector) FetchEntity(ctx context.Context, token credentials.Token, config map[string]string,
	entity string, state *PageState, opts FetchOptions) (Page, error) {
	return Page{}, nil
}

func (c *stubConnector) RefreshToken(ctx context.Context, conn *credentials.Connection) (credentials.Token, error) {
	return credentials.Token{}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubConnector{name: "jira"})
	r.Register(&stubConnector{name: "harvest"})

	t.Run("Get", func(t *testing.T) {
		c, err := r.Get("jira")
		assert.NoError(t, err)
		assert.Equal(t, "jira", c.Name())
	})

	t.Run("GetUnknown", func(t *testing.T) {
		_, err := r.Get("netsuite")
		assert.ErrorIs(t, err, ErrConnectorNotFound)
	})

	t.Run("ListSorted", func(t *testing.T) {
		assert.Equal(t, []string{"harvest", "jira"}, r.ListRegistered())
	})

	t.Run("IsRegistered", func(t *testing.T) {
		assert.True(t, r.IsRegistered("harvest"))
		assert.False(t, r.IsRegistered("netsuite"))
	})

	t.Run("Unregister", func(t *testing.T) {
		r.Unregister("jira")
		assert.False(t, r.IsRegistered("jira"))
	})
}

func TestValidateCredentials(t *testing.T) {
	connector := &stubConnectorWithCreds{required: []string{"account_id", "access_token"}}

	t.Run("AllPresent", func(t *testing.T) {
		conn := &credentials.Connection{
			Config: map[string]string{"account_id": "1"},
			Token:  credentials.Token{AccessToken: "tok"},
		}
		assert.Empty(t, ValidateCredentials(connector, conn))
	})

	t.Run("MissingToken", func(t *testing.T) {
		conn := &credentials.Connection{
			Config: map[string]string{"account_id": "1"},
		}
		assert.Equal(t, []string{"access_token"}, ValidateCredentials(connector, conn))
	})

	t.Run("MissingConfigKey", func(t *testing.T) {
		conn := &credentials.Connection{
			Config: map[string]string{},
			Token:  credentials.Token{AccessToken: "tok"},
		}
		assert.Equal(t, []string{"account_id"}, ValidateCredentials(connector, conn))
	})
}

type stubConnectorWithCreds struct {
	stubConnector
	required []string
}

func (c *stubConnectorWithCreds) RequiredCredentials() []string { return c.required }
