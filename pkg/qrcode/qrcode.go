// Package qrcode превращает строку QR-токена в картинку для клиента.
package qrcode

import (
	"encoding/base64"

	"github.com/cockroachdb/errors"
	"rsc.io/qr"
)

const dataURLPrefix = "data:image/png;base64,"

// DataURL кодирует payload в PNG и отдаёт его как data URL.
func DataURL(payload string) (string, error) {
	if payload == "" {
		return "", errors.New("empty qr payload")
	}
	code, err := qr.Encode(payload, qr.M)
	if err != nil {
		return "", errors.Wrap(err, "encode qr")
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(code.PNG()), nil
}
