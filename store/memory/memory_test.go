package memory

import (
	"testing"

	"github.com/MrEthical07/go2fa/store"
	"github.com/MrEthical07/go2fa/store/storetest"
)

func TestTokenStore(t *testing.T) {
	storetest.RunTokenStore(t, func(*testing.T) store.TokenStore { return New() })
}

func TestCredentialStore(t *testing.T) {
	storetest.RunCredentialStore(t, func(*testing.T) store.CredentialStore { return New() })
}
