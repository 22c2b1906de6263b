package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv loads the .env file for the given environment. ".env.production"
// for production, plain ".env" otherwise.
func LoadEnv(env string) error {
	filename := ".env"
	if env != "" && env != "development" {
		candidate := fmt.Sprintf(".env.%s", env)
		if _, err := os.Stat(candidate); err == nil {
			filename = candidate
		}
	}
	return godotenv.Load(filename)
}

// GetEnv returns the environment variable value or empty string.
func GetEnv(key string) string {
	return os.Getenv(key)
}

// GetIntEnv returns the environment variable as int64, 0 if unset or invalid.
func GetIntEnv(key string) int64 {
	return cast.ToInt64(os.Getenv(key))
}

// GetBoolEnv returns the environment variable as bool, false if unset.
func GetBoolEnv(key string) bool {
	return cast.ToBool(os.Getenv(key))
}

// GetFloatEnv returns the environment variable as float64, 0 if unset.
func GetFloatEnv(key string) float64 {
	return cast.ToFloat64(os.Getenv(key))
}

const randAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandText returns a random alphanumeric string of length n.
func RandText(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(randAlphabet))))
		if err != nil {
			buf[i] = randAlphabet[0]
			continue
		}
		buf[i] = randAlphabet[idx.Int64()]
	}
	return string(buf)
}
