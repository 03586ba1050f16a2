package domain

import "time"

// Mode selects how a comparison ranks banks.
type Mode string

const (
	// ModePlain ranks banks on the raw value of each criterion.
	ModePlain Mode = "plain"

	// ModeScore normalizes values to [0,100], applies rules and weights,
	// and ranks on the composite score.
	ModeScore Mode = "score"
)

// SupportedModes lists the modes accepted by the engine.
var SupportedModes = []Mode{ModePlain, ModeScore}

// CompareRequest is the input of a comparison.
type CompareRequest struct {
	CriteriaKeys []string                  `json:"criteriaKeys"`
	BankIDs      []string                  `json:"bankIds"`
	Mode         Mode                      `json:"mode"`
	Filters      map[string]map[string]any `json:"filters,omitempty"`
	Budgets      map[string]float64        `json:"budgets,omitempty"`
}

// ComparisonResult is the envelope returned to callers. Plain results fill
// PerCriterion and OverallRanking, score results fill Ranking and
// Explanations.
type ComparisonResult struct {
	Mode           Mode               `json:"mode"`
	Success        bool               `json:"success"`
	Error          string             `json:"error,omitempty"`
	CriteriaUsed   []CriterionRef     `json:"criteria_used"`
	PerCriterion   []CriterionRanking `json:"per_criterion,omitempty"`
	OverallRanking []OverallEntry     `json:"overall_ranking,omitempty"`
	Ranking        []ScoreEntry       `json:"ranking,omitempty"`
	Explanations   []Explanation      `json:"explanations,omitempty"`
	BudgetAnalysis *BudgetAnalysis    `json:"budget_analysis,omitempty"`
	Meta           *ResultMeta        `json:"meta,omitempty"`
}

// ResultMeta carries processing information.
type ResultMeta struct {
	ElapsedMs     int64 `json:"elapsed_ms"`
	CriteriaCount int   `json:"criteria_count"`
	BankCount     int   `json:"bank_count"`
	Mode          Mode  `json:"mode"`
}

// BankCriterionResult is the outcome for one bank on one criterion.
type BankCriterionResult struct {
	Rank           int      `json:"rank"`
	Bank           BankRef  `json:"bank"`
	NumValue       *float64 `json:"numValue"`
	Display        string   `json:"display"`
	Excluded       bool     `json:"excluded"`
	Notes          []string `json:"notes"`
	Score          *float64 `json:"score,omitempty"`
	SortKey        *float64 `json:"sortKey,omitempty"`
	PickedEntityID *string  `json:"pickedEntityId,omitempty"`
}

// CriterionRanking is the plain-mode ranking of one criterion.
type CriterionRanking struct {
	Criteria CriterionRef          `json:"criteria"`
	Ranking  []BankCriterionResult `json:"ranking"`
}

// OverallEntry is one line of the plain-mode overall ranking.
type OverallEntry struct {
	Rank       int      `json:"rank"`
	Bank       BankRef  `json:"bank"`
	SortSum    float64  `json:"sortSum"`
	Excluded   bool     `json:"excluded"`
	ExcludedBy []string `json:"excludedBy,omitempty"`
}

// CriterionScore is one criterion's contribution to a score-mode entry.
type CriterionScore struct {
	Key       string   `json:"key"`
	Score     float64  `json:"score"`
	BaseScore float64  `json:"baseScore"`
	Excluded  bool     `json:"excluded"`
	Notes     []string `json:"notes"`
	ProductID *string  `json:"productId,omitempty"`
}

// ScoreEntry is one line of the score-mode ranking.
type ScoreEntry struct {
	Rank        int                `json:"rank"`
	Bank        BankRef            `json:"bank"`
	Score       float64            `json:"score"`
	PerCriteria []CriterionScore   `json:"perCriteria"`
	ProductIDs  map[string]*string `json:"productIds"`
	Excluded    bool               `json:"excluded"`
}

// Explanation describes how a criterion was scored.
type Explanation struct {
	Key      string      `json:"key"`
	Label    string      `json:"label"`
	Strategy string      `json:"strategy"`
	Weight   float64     `json:"weight"`
	Critical bool        `json:"critical"`
	Stats    *ScoreStats `json:"stats,omitempty"`
	Text     string      `json:"text"`
}

// BudgetAnalysis partitions banks against caller-supplied maxima.
type BudgetAnalysis struct {
	Budgets      map[string]float64 `json:"budgets"`
	WithinBudget []BankRef          `json:"within_budget"`
	OverBudget   []OverBudgetEntry  `json:"over_budget"`
	MissingData  []MissingDataEntry `json:"missing_data"`
}

// OverBudgetEntry lists every budget a bank exceeds.
type OverBudgetEntry struct {
	Bank       BankRef           `json:"bank"`
	Violations []BudgetViolation `json:"violations"`
}

// BudgetViolation is one exceeded budget.
type BudgetViolation struct {
	Criteria string  `json:"criteria"`
	Budget   float64 `json:"budget"`
	Actual   float64 `json:"actual"`
	Excess   float64 `json:"excess"`
}

// MissingDataEntry lists the budgeted criteria a bank has no value for.
type MissingDataEntry struct {
	Bank    BankRef  `json:"bank"`
	Missing []string `json:"missing"`
}

// ComparisonRecord is the persisted audit copy of a comparison.
type ComparisonRecord struct {
	ID        string            `json:"id"`
	Request   CompareRequest    `json:"request"`
	Result    *ComparisonResult `json:"result"`
	CreatedAt time.Time         `json:"createdAt"`
}
