package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/rowjay/supa-backup/internal/cryptoutil"
)

// EncryptConfigFile seals a plaintext config so it can be loaded through
// SBU_CONFIG with SBU_CONFIG_KEY. The input must parse in the format its
// name implies, and an existing output file is never replaced.
func EncryptConfigFile(inputPath, outputPath, key string) error {
	if isEncryptedPath(inputPath) {
		return fmt.Errorf("%s is already encrypted", inputPath)
	}
	if !isEncryptedPath(outputPath) {
		return fmt.Errorf("output %s must end in .enc to be loaded as an encrypted config", outputPath)
	}
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return err
	}
	plain, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	vp := viper.New()
	vp.SetConfigType(configTypeFromPath(inputPath))
	if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
		return fmt.Errorf("parse %s: %w", inputPath, err)
	}

	sealed, err := cryptoutil.EncryptConfig(plain, parsed)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists", outputPath)
		}
		return err
	}
	if _, err := f.Write(sealed); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
