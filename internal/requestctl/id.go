package requestctl

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const randDigits = 9

// generateRequestID returns a controller-generated correlation key in the
// form req_<unix_ms>_<rand9>, unique per question.
func generateRequestID() (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(randDigits), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("req_%d_%0*d", time.Now().UnixMilli(), randDigits, n), nil
}
