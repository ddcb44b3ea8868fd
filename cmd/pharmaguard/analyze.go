package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

func (c *cli) analyzeCmd() *cobra.Command {
	var (
		vcfPath       string
		drugs         []string
		patientID     string
		formatVersion string
		pretty        bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a VCF file against one or more drugs",
		Example: `  pharmaguard analyze --vcf patient.vcf --drugs CODEINE,WARFARIN --pretty
  pharmaguard analyze --vcf patient.vcf.gz --drugs clopidogrel --patient-id PATIENT_001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(vcfPath)
			if err != nil {
				return fmt.Errorf("failed to read VCF file: %w", err)
			}

			application, err := c.loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			result, err := application.Analyzer.Analyze(cmd.Context(), &domain.AnalysisRequest{
				FileName:      filepath.Base(vcfPath),
				FormatVersion: formatVersion,
				Data:          data,
				Drugs:         drugs,
				PatientID:     patientID,
			})
			if err != nil {
				return c.reportError(err)
			}
			return c.printJSON(result, pretty)
		},
	}

	cmd.Flags().StringVar(&vcfPath, "vcf", "", "path to a .vcf or .vcf.gz file")
	cmd.Flags().StringSliceVar(&drugs, "drugs", nil, "drugs to evaluate, comma separated")
	cmd.Flags().StringVar(&patientID, "patient-id", "", "patient identifier (defaults to the VCF sample name)")
	cmd.Flags().StringVar(&formatVersion, "format-version", "", "declared VCF version, e.g. 4.2")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON output")
	_ = cmd.MarkFlagRequired("vcf")
	_ = cmd.MarkFlagRequired("drugs")

	return cmd
}

func (c *cli) validateCmd() *cobra.Command {
	var vcfPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse a VCF file and print its quality metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(vcfPath)
			if err != nil {
				return fmt.Errorf("failed to read VCF file: %w", err)
			}

			application, err := c.loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			set, err := application.Analyzer.Validate(cmd.Context(), domain.Upload{
				FileName: filepath.Base(vcfPath),
				Data:     data,
			})
			if err != nil {
				return c.reportError(err)
			}

			return c.printJSON(struct {
				Valid    bool               `json:"valid"`
				Variants int                `json:"variant_count"`
				Metrics  domain.FileMetrics `json:"metrics"`
			}{true, set.Len(), set.Metrics()}, true)
		},
	}

	cmd.Flags().StringVar(&vcfPath, "vcf", "", "path to a .vcf or .vcf.gz file")
	_ = cmd.MarkFlagRequired("vcf")
	return cmd
}

func (c *cli) drugsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "drugs",
		Short: "List the supported drugs and their genes",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := c.loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			kb := application.KB
			if asJSON {
				return c.printJSON(map[string]any{
					"supported_drugs":        kb.SupportedDrugs(),
					"supported_genes":        kb.GeneSymbols(),
					"knowledge_base_version": kb.Version(),
				}, true)
			}

			w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DRUG\tGENES\tGUIDELINE")
			for _, name := range kb.SupportedDrugs() {
				drug, _ := kb.Drug(name)
				fmt.Fprintf(w, "%s\t%v\t%s\n", drug.Name, drug.Genes, drug.Guideline)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func (c *cli) rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules DRUG",
		Short: "Print the phenotype rule table for one drug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := c.loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			drug, ok := application.KB.Drug(args[0])
			if !ok {
				return c.reportError(&domain.UnsupportedDrugError{Drug: args[0]})
			}
			return c.printJSON(drug.Table(), true)
		},
	}
}
