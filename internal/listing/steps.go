// Package listing は物件掲載ウィザードの保存・読み込みと自動保存を提供する。
package listing

// StepKind はステップの保存先を表す。
type StepKind int

const (
	// StepColumns はpropertiesテーブルの列に保存するステップ。
	StepColumns StepKind = iota
	// StepFeatures はproperty_featuresの名前付き属性として保存するステップ。
	StepFeatures
)

// FieldType は値の型変換規則を表す。
type FieldType int

const (
	FieldText     FieldType = iota // プレーンテキスト
	FieldRichText                  // 書式付きテキスト（説明文）
	FieldMoney                     // 金額。数値文字列を受け付ける
	FieldCount                     // 0以上の整数
	FieldNumber                    // 小数を含む数値
	FieldBool                      // true/false
	FieldDate                      // YYYY-MM-DD
)

// Field はステップ内の1項目。Nameは列名または属性名。
type Field struct {
	Name string
	Type FieldType
}

// Step はウィザードの1ステップ。
type Step struct {
	Name     string
	Kind     StepKind
	Category string // StepFeaturesの場合のみ
	Fields   []Field
}

// Names はステップが扱う項目名を定義順に返す。
func (s Step) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Field は名前に対応する項目を返す。
func (s Step) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// steps はウィザードのステップ定義（表示順）。
var steps = []Step{
	{
		Name: "basics",
		Kind: StepColumns,
		Fields: []Field{
			{"title", FieldText},
			{"description", FieldRichText},
			{"property_type", FieldText},
		},
	},
	{
		Name: "location",
		Kind: StepColumns,
		Fields: []Field{
			{"address", FieldText},
			{"city", FieldText},
			{"state", FieldText},
			{"postal_code", FieldText},
			{"latitude", FieldNumber},
			{"longitude", FieldNumber},
		},
	},
	{
		Name: "details",
		Kind: StepColumns,
		Fields: []Field{
			{"bedrooms", FieldCount},
			{"bathrooms", FieldNumber},
			{"monthly_rent", FieldMoney},
			{"available_from", FieldDate},
			{"lease_term_months", FieldCount},
		},
	},
	{
		Name:     "fees",
		Kind:     StepFeatures,
		Category: "fee",
		Fields: []Field{
			{"Application Fee", FieldMoney},
			{"Security Deposit", FieldMoney},
			{"Pet Fee", FieldMoney},
			{"Parking Fee", FieldMoney},
			{"Utility Fee", FieldMoney},
		},
	},
	{
		Name:     "screening",
		Kind:     StepFeatures,
		Category: "screening",
		Fields: []Field{
			{"Minimum Credit Score", FieldCount},
			{"Income Multiplier", FieldNumber},
			{"Background Check", FieldBool},
			{"Eviction History", FieldText},
		},
	},
	{
		Name:     "policies",
		Kind:     StepFeatures,
		Category: "policy",
		Fields: []Field{
			{"Pet Policy", FieldText},
			{"Smoking Policy", FieldText},
			{"Guest Policy", FieldText},
			{"Sublease Policy", FieldText},
		},
	},
	{
		Name:     "amenities",
		Kind:     StepFeatures,
		Category: "amenity",
		Fields: []Field{
			{"Laundry", FieldBool},
			{"Parking", FieldBool},
			{"Furnished", FieldBool},
			{"Internet", FieldBool},
			{"Gym", FieldBool},
			{"Pool", FieldBool},
		},
	},
}

// Steps はウィザードのステップ定義を表示順に返す。
func Steps() []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}

// LookupStep は名前に対応するステップを返す。
func LookupStep(name string) (Step, bool) {
	for _, s := range steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}
