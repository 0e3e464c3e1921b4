package run

import (
	"context"
	"regexp"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplete(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		exp   bool
	}{
		{
			name: "NoSignal",
			files: []string{
				"fastq_pass/reads_0.fastq",
				"sequencing_summary.txt",
			},
			exp: false,
		},
		{
			name: "SignalAtTopLevel",
			files: []string{
				"fastq_pass/reads_0.fastq",
				"final_summary_20230101.txt",
			},
			exp: true,
		},
		{
			name: "SignalNested",
			files: []string{
				"reports/final_summary.txt",
			},
			exp: true,
		},
		{
			name: "SignalNameNeedsSuffix",
			files: []string{
				"final_summary.txt.tmp",
			},
			exp: false,
		},
		{
			name:  "EmptyRun",
			files: []string{},
			exp:   false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			fs = afero.NewMemMapFs()
			runPath := "/runs/20230101_1200_X1_FAB12345_a1b2c3d4"
			require.NoError(t, fs.MkdirAll(runPath, 0755))
			for _, file := range test.files {
				require.NoError(t, afero.WriteFile(fs,
					runPath+"/"+file, []byte("data"), 0644))
			}

			detector := NewDetector(regexp.MustCompile(DefaultCompletionPattern))
			complete, err := detector.Complete(context.Background(), runPath)
			require.NoError(t, err)
			assert.Equal(t, test.exp, complete)
		})
	}
}

func TestCompleteWalkError(t *testing.T) {
	fs = afero.NewMemMapFs()

	detector := NewDetector(regexp.MustCompile(DefaultCompletionPattern))
	complete, err := detector.Complete(context.Background(), "/does/not/exist")
	assert.Error(t, err)
	assert.False(t, complete)
}

func TestCompleteCancelled(t *testing.T) {
	fs = afero.NewMemMapFs()
	runPath := "/runs/20230101_1200_X1_FAB12345_a1b2c3d4"
	require.NoError(t, afero.WriteFile(fs,
		runPath+"/final_summary.txt", []byte("data"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	detector := NewDetector(regexp.MustCompile(DefaultCompletionPattern))
	complete, err := detector.Complete(ctx, runPath)
	assert.Error(t, err)
	assert.False(t, complete)
}
