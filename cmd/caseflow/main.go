package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseflow/internal/app"
	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/engine/adhoc"
	"caseflow/internal/repo"
	"caseflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "caseflow",
	Short: "Caseflow CLI",
	Long: `Caseflow runs KYC review cases through a staged approval workflow.
Core concepts:
- Workspace: your .caseflow directory holding the database; caseflow.yml overrides the built-in workflow.
- Clients: the people under review; cases reference a client record.
- Cases: a case walks ANALYST -> REVIEWER -> AFC_REVIEWER -> ACO_REVIEWER and ends APPROVED.
- Questionnaire: mandatory questions gate the first approval; a case cannot leave the analyst until every mandatory answer is filled.
- Tasks: each live case has exactly one open stage task; claim it, work it, approve or reject it.
- Rejection: any reviewer stage can push the case back to the analyst with a comment.
- Ad-hoc tasks: two-party request/response side tasks outside the main workflow.
- Screening: file PEP/sanctions checks per client and record verdicts as they come back.
- Event log: every workflow action lands in the case event log, view with 'caseflow log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	rootCmd.PersistentFlags().String("role", "", "acting role recorded on comments")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
}

func registerCommands() {
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(adhocCmd())
	rootCmd.AddCommand(questionCmd())
	rootCmd.AddCommand(screeningCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "client", Short: "Manage clients"}
	cmd.AddCommand(clientCreateCmd())
	cmd.AddCommand(clientListCmd())
	cmd.AddCommand(clientShowCmd())
	return cmd
}

func clientCreateCmd() *cobra.Command {
	var first, last, dob, citizenship string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateClient(ctx, engine.ClientCreateOptions{
					FirstName:   first,
					LastName:    last,
					DateOfBirth: dob,
					Citizenship: citizenship,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&first, "first-name", "", "first name")
	cmd.Flags().StringVar(&last, "last-name", "", "last name")
	cmd.Flags().StringVar(&dob, "dob", "", "date of birth (YYYY-MM-DD)")
	cmd.Flags().StringVar(&citizenship, "citizenship", "", "citizenship code")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("last-name")
	return cmd
}

func clientListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListClients(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "First Name", "Last Name", "DOB", "Citizenship"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.FirstName, c.LastName, c.DateOfBirth, c.Citizenship})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func clientShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <client-id>",
		Short: "Show a client with their cases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				c, err := r.GetClient(ctx, id)
				if err != nil {
					return err
				}
				cases, err := r.ListCasesByClient(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"client": c, "cases": cases})
			})
		},
	}
}

func caseCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "case", Short: "Manage KYC cases"}
	cmd.AddCommand(caseCreateCmd())
	cmd.AddCommand(caseListCmd())
	cmd.AddCommand(caseShowCmd())
	cmd.AddCommand(caseCommentCmd())
	cmd.AddCommand(caseAnswerCmd())
	cmd.AddCommand(caseAnswersCmd())
	cmd.AddCommand(caseCheckCmd())
	cmd.AddCommand(caseAssignCmd())
	cmd.AddCommand(caseMigrateCmd())
	cmd.AddCommand(caseEventsCmd())
	return cmd
}

func caseCreateCmd() *cobra.Command {
	var clientID int64
	var reason string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a case and start its workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, pi, err := e.StartCase(ctx, engine.StartCaseOptions{
					ClientID:  clientID,
					Reason:    reason,
					Initiator: viper.GetString("user-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"case": c, "process_instance": pi})
			})
		},
	}
	cmd.Flags().Int64Var(&clientID, "client-id", 0, "client id")
	cmd.Flags().StringVar(&reason, "reason", "", "reason for opening the case")
	_ = cmd.MarkFlagRequired("client-id")
	return cmd
}

func caseListCmd() *cobra.Command {
	var clientID int64
	var status, assignee string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCases(ctx, repo.CaseFilters{
					ClientID: clientID,
					Status:   status,
					Assignee: assignee,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Status", "Assignee", "Created"})
				for _, c := range items {
					assignee := ""
					if c.AssignedTo != nil {
						assignee = *c.AssignedTo
					}
					tw.AppendRow(table.Row{c.ID, c.ClientName, c.Status, assignee, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&clientID, "client-id", 0, "filter by client")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&assignee, "assignee", "", "filter by assignee")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				c, err := r.GetCase(ctx, id)
				if err != nil {
					return err
				}
				out := map[string]any{"case": c}
				if pi, err := r.GetProcessInstanceByCase(ctx, id); err == nil {
					out["process_instance"] = pi
					if t, err := r.GetStageTaskByInstance(ctx, pi.ID); err == nil {
						out["task"] = t
					}
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func caseCommentCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "comment <case-id>",
		Short: "Add a case comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, id, viper.GetString("user-id"), viper.GetString("role"), text)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "comment text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func caseAnswerCmd() *cobra.Command {
	var questionID int64
	var text string
	cmd := &cobra.Command{
		Use:   "answer <case-id>",
		Short: "Save a questionnaire answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SaveAnswers(ctx, id, []domain.QuestionnaireAnswer{{
					CaseID:     id,
					QuestionID: questionID,
					Text:       text,
				}})
			})
		},
	}
	cmd.Flags().Int64Var(&questionID, "question-id", 0, "question id")
	cmd.Flags().StringVar(&text, "text", "", "answer text")
	_ = cmd.MarkFlagRequired("question-id")
	return cmd
}

func caseAnswersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "answers <case-id>",
		Short: "List saved answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAnswers(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func caseCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <case-id>",
		Short: "Check mandatory questionnaire completeness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.CheckComplete(ctx, id); err != nil {
					var ve engine.ValidationError
					if errors.As(err, &ve) {
						return printJSONOrTable(map[string]any{"complete": false, "missing_question": ve.Question})
					}
					return err
				}
				return printJSONOrTable(map[string]any{"complete": true})
			})
		},
	}
}

func caseAssignCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "assign <case-id>",
		Short: "Force-assign the case's open task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.AssignCase(ctx, id, userID, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "to", "", "user to assign the task to")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func caseMigrateCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "migrate [case-id]",
		Short: "Rebuild process instances for legacy cases",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("user-id")
				if all {
					n := e.MigrateLegacyCases(ctx, actor)
					return printJSONOrTable(map[string]any{"migrated": n})
				}
				if len(args) == 0 {
					return fmt.Errorf("case-id required unless --all")
				}
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				pi, err := e.MigrateLegacyCase(ctx, id, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(pi)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "migrate every configured legacy case")
	return cmd
}

func caseEventsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "events <case-id>",
		Short: "Show the case event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListCaseEvents(ctx, id, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func questionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "question",
		Short: "Manage the questionnaire template",
	}
	cmd.AddCommand(questionListCmd())
	cmd.AddCommand(questionAddCmd())
	return cmd
}

func questionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the questionnaire template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				sections, err := r.ListQuestionnaire(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sections)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Section", "Question", "Mandatory", "Risk Factor"})
				for _, s := range sections {
					for _, q := range s.Questions {
						tw.AppendRow(table.Row{q.ID, s.Name, q.Text, q.Mandatory, q.RiskFactorKey})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
}

func questionAddCmd() *cobra.Command {
	var section, text, qtype, options, riskFactor string
	var mandatory bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a question to the template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.AddQuestion(ctx, engine.AddQuestionOptions{
					Section:       section,
					Text:          text,
					Type:          qtype,
					Mandatory:     mandatory,
					Options:       options,
					RiskFactorKey: riskFactor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringVar(&section, "section", "", "section name (created if missing)")
	cmd.Flags().StringVar(&text, "text", "", "question text")
	cmd.Flags().StringVar(&qtype, "type", "TEXT", "question type")
	cmd.Flags().StringVar(&options, "options", "", "comma separated choices for choice questions")
	cmd.Flags().StringVar(&riskFactor, "risk-factor", "", "risk factor key")
	cmd.Flags().BoolVar(&mandatory, "mandatory", false, "answer required before first approval")
	_ = cmd.MarkFlagRequired("section")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Work the stage task queue"}
	cmd.AddCommand(taskMineCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskClaimCmd())
	cmd.AddCommand(taskReleaseCmd())
	cmd.AddCommand(taskApproveCmd())
	cmd.AddCommand(taskRejectCmd())
	return cmd
}

func taskMineCmd() *cobra.Command {
	var groups []string
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "List tasks I hold or can claim",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListUserTasks(ctx, viper.GetString("user-id"), groups)
				if err != nil {
					return err
				}
				return printTaskTable(items)
			})
		},
	}
	cmd.Flags().StringSliceVar(&groups, "group", nil, "candidate groups (repeatable)")
	return cmd
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every open task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAllTasks(ctx)
				if err != nil {
					return err
				}
				return printTaskTable(items)
			})
		},
	}
}

func taskClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <task-id>",
		Short: "Claim a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ClaimTask(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <task-id>",
		Short: "Release a claimed task back to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UnclaimTask(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Approve the current stage and move the case forward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AdvanceTask(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func taskRejectCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "reject <task-id>",
		Short: "Reject the current stage back to the analyst",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.RejectTask(ctx, args[0], viper.GetString("user-id"), viper.GetString("role"), comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "mandatory rejection comment")
	_ = cmd.MarkFlagRequired("comment")
	return cmd
}

func processCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "process", Short: "Inspect and repair process instances"}
	cmd.AddCommand(processListCmd())
	cmd.AddCommand(processTerminateCmd())
	cmd.AddCommand(processPurgeCmd())
	return cmd
}

func processListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live process instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProcesses(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func processTerminateCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "terminate <process-id>",
		Short: "Terminate a process instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Terminate(ctx, args[0], reason)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "termination reason")
	return cmd
}

func processPurgeCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Terminate every process instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.DeleteAllProcesses(ctx, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"terminated": n})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "operator purge", "termination reason")
	return cmd
}

func adhocCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "adhoc", Short: "Two-party ad-hoc tasks"}
	cmd.AddCommand(adhocCreateCmd())
	cmd.AddCommand(adhocMineCmd())
	cmd.AddCommand(adhocShowCmd())
	cmd.AddCommand(adhocRespondCmd())
	cmd.AddCommand(adhocReassignCmd())
	cmd.AddCommand(adhocCompleteCmd())
	cmd.AddCommand(adhocCommentCmd())
	return cmd
}

func adhocCreateCmd() *cobra.Command {
	var assignee, request string
	var clientID int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open an ad-hoc task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				var cid *int64
				if clientID != 0 {
					cid = &clientID
				}
				t, err := a.AdHoc.Create(ctx, adhoc.CreateOptions{
					Owner:       viper.GetString("user-id"),
					Assignee:    assignee,
					RequestText: request,
					ClientID:    cid,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "user the request goes to")
	cmd.Flags().StringVar(&request, "request", "", "request text")
	cmd.Flags().Int64Var(&clientID, "client-id", 0, "optional related client")
	_ = cmd.MarkFlagRequired("assignee")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func adhocMineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "List my open ad-hoc tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.AdHoc.ListMine(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func adhocShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show an ad-hoc task with comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.AdHoc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func adhocRespondCmd() *cobra.Command {
	var response string
	cmd := &cobra.Command{
		Use:   "respond <task-id>",
		Short: "Respond to an ad-hoc task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.AdHoc.Respond(ctx, args[0], viper.GetString("user-id"), response)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&response, "response", "", "response text")
	_ = cmd.MarkFlagRequired("response")
	return cmd
}

func adhocReassignCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "reassign <task-id>",
		Short: "Reassign an ad-hoc task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.AdHoc.Reassign(ctx, args[0], viper.GetString("user-id"), to)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "new assignee")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func adhocCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Complete an ad-hoc task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.AdHoc.Complete(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func adhocCommentCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "comment <task-id>",
		Short: "Comment on an ad-hoc task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				c, err := a.AdHoc.Comment(ctx, args[0], viper.GetString("user-id"), message)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "comment text")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func screeningCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "screening", Short: "Client screening checks"}
	cmd.AddCommand(screeningRunCmd())
	cmd.AddCommand(screeningHistoryCmd())
	cmd.AddCommand(screeningResolveCmd())
	return cmd
}

func screeningRunCmd() *cobra.Command {
	var clientID int64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "File a screening request for a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				l, err := a.Screening.Screen(ctx, clientID)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().Int64Var(&clientID, "client-id", 0, "client id")
	_ = cmd.MarkFlagRequired("client-id")
	return cmd
}

func screeningHistoryCmd() *cobra.Command {
	var clientID int64
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show screening history for a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				logs, results, err := a.Screening.History(ctx, clientID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"logs": logs, "results": results})
			})
		},
	}
	cmd.Flags().Int64Var(&clientID, "client-id", 0, "client id")
	_ = cmd.MarkFlagRequired("client-id")
	return cmd
}

func screeningResolveCmd() *cobra.Command {
	var requestID, screeningContext, matchName string
	var hit bool
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Record a screening verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Screening.Resolve(ctx, requestID, screeningContext, hit, matchName)
			})
		},
	}
	cmd.Flags().StringVar(&requestID, "request-id", "", "external screening request id")
	cmd.Flags().StringVar(&screeningContext, "context", "", "screening context (PEP, ADM, INT, SAN)")
	cmd.Flags().BoolVar(&hit, "hit", false, "whether the check produced a match")
	cmd.Flags().StringVar(&matchName, "match-name", "", "matched list entry")
	_ = cmd.MarkFlagRequired("request-id")
	_ = cmd.MarkFlagRequired("context")
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rbac", Short: "Role permission administration"}
	cmd.AddCommand(rbacListCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	return cmd
}

func rbacListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the role permission matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				perms, err := r.ListRolePermissions(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(perms)
			})
		},
	}
}

func rbacGrantCmd() *cobra.Command {
	var role, perm string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a permission to a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.AddRolePermission(ctx, tx, role, perm); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role id")
	cmd.Flags().StringVar(&perm, "permission", "", "permission id")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("permission")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var role, perm string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a permission from a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.RemoveRolePermission(ctx, tx, role, perm); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role id")
	cmd.Flags().StringVar(&perm, "permission", "", "permission id")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("permission")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (secret printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := newSecret()
				key := domain.APIKey{
					ID:        newSecret(),
					UserID:    userID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": key.ID, "user_id": key.UserID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&userID, "for", "", "user the key acts as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("for")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				type row struct {
					ID        string `json:"id"`
					UserID    string `json:"user_id"`
					Name      string `json:"name,omitempty"`
					CreatedAt string `json:"created_at"`
				}
				out := make([]row, 0, len(keys))
				for _, k := range keys {
					out = append(out, row{ID: k.ID, UserID: k.UserID, Name: k.Name, CreatedAt: k.CreatedAt})
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "for", "", "filter by user")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default caseflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			return os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "kyc-local", "project id for the generated config")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg == nil {
				fmt.Println("no caseflow.yml; built-in defaults are active")
				return nil
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate caseflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var caseID int64
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail case events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListCaseEvents(ctx, caseID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().Int64Var(&caseID, "case-id", 0, "case id")
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	_ = cmd.MarkFlagRequired("case-id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg := server.AuthConfig{
				JWTSecret:             os.Getenv("CASEFLOW_JWT_SECRET"),
				AllowLegacyUserHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CASEFLOW_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:    a.Engine,
				AdHoc:     a.AdHoc,
				Screening: a.Screening,
				BasePath:  basePath,
				Auth:      authCfg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Caseflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-user-header", false, "accept the deprecated X-User-Id header")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.Context) error {
		return fn(ctx, a.Engine)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.Context) error {
		return fn(ctx, a.Repo)
	})
}

func printTaskTable(items []domain.TaskSummary) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Task", "Case", "Stage", "Assignee", "Group"})
	for _, t := range items {
		assignee := ""
		if t.Assignee != nil {
			assignee = *t.Assignee
		}
		tw.AppendRow(table.Row{t.TaskID, t.CaseID, t.Stage, assignee, t.CandidateGroup})
	}
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func newSecret() string {
	return uuid.NewString()
}
