package repository

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
)

// エラー種別。errors.Isで判定する。
var (
	// ErrNotFound は更新・削除対象のレコードが存在しないことを示す。
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists は一意制約に違反する作成が拒否されたことを示す。
	// 同時作成の競合で発生し、呼び出し側は再取得で回復する。
	ErrAlreadyExists = errors.New("record already exists")
	// ErrResourceMissing はテーブルなどストレージ側のリソースが未作成であることを示す。
	ErrResourceMissing = errors.New("storage resource missing")
	// ErrUnavailable はストレージに到達できないことを示す。
	ErrUnavailable = errors.New("storage unavailable")
)

// PostgreSQLのSQLSTATE
const (
	pqUniqueViolation = "23505"
	pqUndefinedTable  = "42P01"
)

// StoreError はエラー種別と対象リソース、元のドライバエラーを保持する。
type StoreError struct {
	Kind     error
	Resource string
	Err      error
}

// Error はerrorインターフェースを実装する。
func (e *StoreError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Resource, e.Err)
}

// Unwrap はerrors.Is/errors.Asで種別と元エラーの両方を辿れるようにする。
func (e *StoreError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// ResourceOf はエラーに含まれる対象リソース名を返す。StoreErrorでない場合は空文字列。
func ResourceOf(err error) string {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Resource
	}
	return ""
}

// classify はドライバのエラーをエラー種別に変換する。
// 既知の種別に当てはまらないエラーはそのまま返す。
func classify(err error, resource string) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return &StoreError{Kind: ErrAlreadyExists, Resource: resource, Err: err}
		case pqUndefinedTable:
			return &StoreError{Kind: ErrResourceMissing, Resource: resource, Err: err}
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return &StoreError{Kind: ErrUnavailable, Resource: resource, Err: err}
	}

	return err
}
