package digest

// SchemaVersion versions the canonical encoding. Changing any schema below
// requires a new version, otherwise previously committed digests stop matching.
const SchemaVersion = "v1"

const canonicalPrefix = "artha-integrity/" + SchemaVersion + "/"

type fieldKind int

const (
	kindString fieldKind = iota
	kindDecimal
	kindInteger
	kindBool
	kindTimestamp
	kindDate
)

type fieldSpec struct {
	name     string
	kind     fieldKind
	scale    int // fractional digits, decimals only
	required bool
}

type schema struct {
	name       string
	recordType RecordType
	fields     []fieldSpec
}

var loanSchema = &schema{
	name:       "LOAN",
	recordType: RecordTypeLoan,
	fields: []fieldSpec{
		{name: "amount", kind: kindDecimal, scale: 2, required: true},
		{name: "borrower", kind: kindString, required: true},
		{name: "lender", kind: kindString, required: true},
		{name: "interest_rate", kind: kindDecimal, scale: 4},
		{name: "tenure_months", kind: kindInteger},
		{name: "purpose", kind: kindString},
		{name: "disbursed_at", kind: kindTimestamp},
	},
}

var identitySchema = &schema{
	name:       "IDENTITY",
	recordType: RecordTypeIdentity,
	fields: []fieldSpec{
		{name: "user_id", kind: kindString, required: true},
		{name: "full_name", kind: kindString, required: true},
		{name: "document_number", kind: kindString, required: true},
		{name: "date_of_birth", kind: kindDate},
		{name: "id_verified", kind: kindBool},
		{name: "face_match", kind: kindDecimal, scale: 4},
		{name: "location_ok", kind: kindBool},
		{name: "verified_at", kind: kindTimestamp},
	},
}

var loanRepaymentSchema = &schema{
	name:       "LOAN/REPAYMENT",
	recordType: RecordTypeLoan,
	fields: []fieldSpec{
		{name: "repayment_amount", kind: kindDecimal, scale: 2, required: true},
		{name: "repaid_at", kind: kindTimestamp, required: true},
	},
}

var schemas = map[RecordType]*schema{
	RecordTypeLoan:     loanSchema,
	RecordTypeIdentity: identitySchema,
}

// FieldNames returns the canonical field order for rt, or nil for unknown types.
func FieldNames(rt RecordType) []string {
	s, ok := schemas[rt]
	if !ok {
		return nil
	}
	return s.names()
}

// FollowupFieldNames returns the canonical field order of the loan repayment schema.
func FollowupFieldNames() []string {
	return loanRepaymentSchema.names()
}

func (s *schema) names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.name
	}
	return out
}
