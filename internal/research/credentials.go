package research

import (
	"strings"

	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/pkg/errors"
)

// ResolvedKeys are the keys a run will use and where they came from.
type ResolvedKeys struct {
	SearchKey    string
	LLMKey       string
	OwnSearchKey bool
	OwnLLMKey    bool
}

// ResolveKeys lets each per-user key override the process default.
func ResolveKeys(user, defaults domain.APIKeys) (ResolvedKeys, error) {
	var keys ResolvedKeys

	if k := strings.TrimSpace(user.SearchKey); k != "" {
		keys.SearchKey, keys.OwnSearchKey = k, true
	} else {
		keys.SearchKey = defaults.SearchKey
	}
	if k := strings.TrimSpace(user.LLMKey); k != "" {
		keys.LLMKey, keys.OwnLLMKey = k, true
	} else {
		keys.LLMKey = defaults.LLMKey
	}

	if keys.SearchKey == "" {
		return ResolvedKeys{}, errors.NewConfigurationError("no YouTube API key configured; add one in Settings", "youtube")
	}
	if keys.LLMKey == "" {
		return ResolvedKeys{}, errors.NewConfigurationError("no generative model API key configured; add one in Settings", "gemini")
	}
	return keys, nil
}
