package listing

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// FieldError は型変換に失敗した項目を表す。
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Coerce はJSONから受け取った値を項目の型に変換する。
// 空文字・空白・nullはnil（未入力）になる。
// 金額・件数・数値は数値に見える文字列を受け付ける。真偽値は"true"/"false"を受け付ける。
func Coerce(f Field, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}

	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		raw = s
	}

	switch f.Type {
	case FieldText, FieldRichText:
		switch v := raw.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		}

	case FieldMoney, FieldNumber:
		n, err := toFloat(raw)
		if err != nil {
			return nil, &FieldError{Field: f.Name, Reason: "数値を入力してください"}
		}
		if f.Type == FieldMoney {
			if n < 0 {
				return nil, &FieldError{Field: f.Name, Reason: "0以上の金額を入力してください"}
			}
			n = math.Round(n*100) / 100
		}
		return n, nil

	case FieldCount:
		n, err := toFloat(raw)
		if err != nil || n < 0 || n != math.Trunc(n) {
			return nil, &FieldError{Field: f.Name, Reason: "0以上の整数を入力してください"}
		}
		// 件数はINTEGER列に入る範囲に限る
		if n > math.MaxInt32 {
			return nil, &FieldError{Field: f.Name, Reason: "値が大きすぎます"}
		}
		return int64(n), nil

	case FieldBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.ToLower(v))
			if err == nil {
				return b, nil
			}
		}
		return nil, &FieldError{Field: f.Name, Reason: "true または false を指定してください"}

	case FieldDate:
		if s, ok := raw.(string); ok {
			if d, err := time.Parse(dateLayout, s); err == nil {
				return d, nil
			}
		}
		return nil, &FieldError{Field: f.Name, Reason: "YYYY-MM-DD形式で入力してください"}
	}

	return nil, &FieldError{Field: f.Name, Reason: "値の形式が不正です"}
}

// toFloat は数値または数値文字列をfloat64に変換する。
// 金額入力で使われる"$"と桁区切りの","は取り除く。
func toFloat(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("not a finite number")
		}
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		s := strings.NewReplacer("$", "", ",", "").Replace(v)
		n, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("not a number: %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("unsupported type %T", raw)
}

// FormatFeatureValue は変換済みの値を属性テーブルの文字列表現にする。
func FormatFeatureValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(dateLayout)
	}
	return fmt.Sprint(v)
}

// ParseFeatureValue は属性テーブルの文字列を項目の型に戻す。
// 変換できない値は文字列のまま返す。
func ParseFeatureValue(f Field, value string) interface{} {
	v, err := Coerce(f, value)
	if err != nil || v == nil {
		return value
	}
	if d, ok := v.(time.Time); ok {
		return d.Format(dateLayout)
	}
	return v
}
