// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ReadFromPath reads a secret from a file, or from stdin when path is
// "-". Surrounding whitespace is trimmed. A value that is valid hex of
// even length is decoded, so both raw passphrases and hex keys work.
func ReadFromPath(path string) (*Buffer, error) {
	if path == "-" {
		return read(os.Stdin)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return read(file)
}

func read(source io.Reader) (*Buffer, error) {
	scanner := bufio.NewScanner(source)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("secret: reading: %w", err)
		}
		return nil, fmt.Errorf("secret: source is empty")
	}
	line := scanner.Bytes()
	defer Zero(line)

	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("secret: source is empty")
	}

	if len(trimmed)%2 == 0 {
		decoded := make([]byte, hex.DecodedLen(len(trimmed)))
		if _, err := hex.Decode(decoded, trimmed); err == nil {
			return NewFromBytes(decoded)
		}
		Zero(decoded)
	}
	return NewFromBytes(append([]byte(nil), trimmed...))
}
