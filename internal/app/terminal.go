package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/peterh/liner"
	"golang.org/x/term"
)

// errInterrupted はCtrl+Cで入力が中断された場合のエラー。
var errInterrupted = errors.New("input interrupted")

// LineReader はチャットの入力行を1行ずつ読む。
// 入力の終わりではio.EOFを返す。
type LineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// newLineReader は標準入力が端末なら行編集と履歴付きの、そうでなければ素朴なリーダーを返す。
func newLineReader(in *os.File, out io.Writer) LineReader {
	if term.IsTerminal(int(in.Fd())) {
		return newLinerReader()
	}
	return newScannerReader(in, out)
}

// linerReader はlinerによる対話用リーダー。履歴は ~/.nsai/chat_history に保存する。
type linerReader struct {
	state       *liner.State
	historyPath string
}

func newLinerReader() *linerReader {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)

	r := &linerReader{state: state}
	if home, err := os.UserHomeDir(); err == nil {
		r.historyPath = filepath.Join(home, ".nsai", "chat_history")
		if f, err := os.Open(r.historyPath); err == nil {
			_, _ = state.ReadHistory(f)
			f.Close()
		}
	}
	return r
}

func (r *linerReader) ReadLine(prompt string) (string, error) {
	line, err := r.state.Prompt(prompt)
	switch {
	case errors.Is(err, liner.ErrPromptAborted):
		return "", errInterrupted
	case err != nil:
		return "", err
	}
	if line != "" {
		r.state.AppendHistory(line)
	}
	return line, nil
}

func (r *linerReader) Close() error {
	if r.historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(r.historyPath), 0o700); err == nil {
			if f, err := os.OpenFile(r.historyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
				_, _ = r.state.WriteHistory(f)
				f.Close()
			}
		}
	}
	return r.state.Close()
}

// scannerReader はパイプやテスト向けのリーダー。プロンプトはoutに書く。
type scannerReader struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func newScannerReader(in io.Reader, out io.Writer) *scannerReader {
	return &scannerReader{scanner: bufio.NewScanner(in), out: out}
}

func (r *scannerReader) ReadLine(prompt string) (string, error) {
	if r.out != nil && prompt != "" {
		fmt.Fprint(r.out, prompt)
	}
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *scannerReader) Close() error { return nil }
