package commands

import (
	"strings"

	"github.com/dyluth/hivemind/pkg/knowledge"
	"github.com/spf13/cobra"
)

var (
	patternStrategy string
	patternRoles    []string
	patternOutcome  string
	patternSteps    []string
	patternScore    float64
	patternAttrs    []string
	patternMinScore float64
	patternLimit    int
	patternAll      bool

	learningConfidence    float64
	learningAttrs         []string
	learningMinConfidence float64
	learningLimit         int
	learningSelf          bool
	learningAll           bool
)

var patternCmd = &cobra.Command{
	Use:   "pattern",
	Short: "Record and retrieve execution patterns",
}

var patternAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Record a successful execution pattern",
	Long: `Record a pattern with its success score (0..1).

Recording the same pattern with the same score again is a duplicate; a new
score adds a new record.

Example:
  hivemind pattern add blue-green -w planner --strategy "shift traffic after smoke tests" \
    --role deployer --step build --step smoke --step switch --score 0.92`,
	Args: cobra.ExactArgs(1),
	RunE: runPatternAdd,
}

var patternListCmd = &cobra.Command{
	Use:   "list [NAME]",
	Short: "List patterns, best first",
	Long: `List patterns at or above --min-score, highest score first.

Without NAME, lists patterns recorded by this worker type.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPatternList,
}

var learningCmd = &cobra.Command{
	Use:   "learning",
	Short: "Record and retrieve learnings",
}

var learningAddCmd = &cobra.Command{
	Use:   "add CATEGORY INSIGHT...",
	Short: "Record an insight under a category",
	Example: `  hivemind learning add testing "table tests catch edge cases early" -w coder --confidence 0.85`,
	Args:    cobra.MinimumNArgs(2),
	RunE:    runLearningAdd,
}

var learningListCmd = &cobra.Command{
	Use:   "list [CATEGORY]",
	Short: "List learnings, most confident first",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLearningList,
}

func init() {
	f := patternAddCmd.Flags()
	f.StringVar(&patternStrategy, "strategy", "", "Strategy description (required)")
	f.StringSliceVar(&patternRoles, "role", nil, "Role used (repeatable)")
	f.StringVar(&patternOutcome, "outcome", "", "Outcome summary")
	f.StringArrayVar(&patternSteps, "step", nil, "Step, in order (repeatable)")
	f.Float64Var(&patternScore, "score", 0, "Success score in [0,1] (required)")
	f.StringSliceVar(&patternAttrs, "attr", nil, "Context attribute key=value (repeatable)")
	patternAddCmd.MarkFlagRequired("strategy")
	patternAddCmd.MarkFlagRequired("score")

	f = patternListCmd.Flags()
	f.Float64Var(&patternMinScore, "min-score", knowledge.DefaultMinSuccessScore, "Minimum success score")
	f.BoolVar(&patternAll, "all", false, "Ignore --min-score")
	f.IntVarP(&patternLimit, "limit", "l", knowledge.DefaultPatternLimit, "Maximum patterns")

	f = learningAddCmd.Flags()
	f.Float64Var(&learningConfidence, "confidence", 0, "Confidence in [0,1] (required)")
	f.StringSliceVar(&learningAttrs, "attr", nil, "Context attribute key=value (repeatable)")
	learningAddCmd.MarkFlagRequired("confidence")

	f = learningListCmd.Flags()
	f.Float64Var(&learningMinConfidence, "min-confidence", knowledge.DefaultMinConfidence, "Minimum confidence")
	f.BoolVar(&learningAll, "all", false, "Ignore --min-confidence")
	f.BoolVar(&learningSelf, "self", false, "Only learnings from this worker type")
	f.IntVarP(&learningLimit, "limit", "l", knowledge.DefaultLearningLimit, "Maximum learnings")

	patternCmd.AddCommand(patternAddCmd, patternListCmd)
	learningCmd.AddCommand(learningAddCmd, learningListCmd)
	rootCmd.AddCommand(patternCmd, learningCmd)
}

func runPatternAdd(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)
	attrs, err := parseAttrs(patternAttrs)
	if err != nil {
		return p.Error("invalid attribute", err.Error(), nil)
	}
	client, err := newClient(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	res, err := client.StorePattern(cmd.Context(), args[0], knowledge.PatternData{
		Strategy:  patternStrategy,
		RolesUsed: patternRoles,
		Outcome:   patternOutcome,
		Steps:     patternSteps,
	}, patternScore, attrs)
	if err != nil {
		if knowledge.IsValidationError(err) {
			return p.Error("invalid pattern", err.Error(), nil)
		}
		return gatewayError(cmd, "failed to store pattern", err)
	}
	describeResult(cmd, "pattern", res)
	return nil
}

func runPatternList(cmd *cobra.Command, args []string) error {
	r, err := newRenderer(cmd)
	if err != nil {
		return err
	}
	client, err := newClient(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	q := knowledge.PatternQuery{MinSuccessScore: patternMinScore, Limit: patternLimit}
	if len(args) == 1 {
		q.Name = args[0]
	}
	if patternAll {
		q.MinSuccessScore = knowledge.NoThreshold
	}
	return r.Patterns(client.RetrievePatterns(cmd.Context(), q))
}

func runLearningAdd(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)
	attrs, err := parseAttrs(learningAttrs)
	if err != nil {
		return p.Error("invalid attribute", err.Error(), nil)
	}
	client, err := newClient(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	res, err := client.StoreLearning(cmd.Context(), args[0], strings.Join(args[1:], " "), learningConfidence, attrs)
	if err != nil {
		if knowledge.IsValidationError(err) {
			return p.Error("invalid learning", err.Error(), nil)
		}
		return gatewayError(cmd, "failed to store learning", err)
	}
	describeResult(cmd, "learning", res)
	return nil
}

func runLearningList(cmd *cobra.Command, args []string) error {
	r, err := newRenderer(cmd)
	if err != nil {
		return err
	}
	client, err := newClient(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	q := knowledge.LearningQuery{MinConfidence: learningMinConfidence, Limit: learningLimit, OnlySelf: learningSelf}
	if len(args) == 1 {
		q.Category = args[0]
	}
	if learningAll {
		q.MinConfidence = knowledge.NoThreshold
	}
	return r.Learnings(client.RetrieveLearnings(cmd.Context(), q))
}
