package synth

import (
	"fmt"
	"math"
	"strings"

	"github.com/crimson-sun/watchdog/internal/model"
)

const promptTemplate = `You are WatchDogAI, an expert DevOps and Security analyst. Analyze the following log entries and provide a structured security/operations recommendation.

CONTEXT: %s

LOG ENTRIES TO ANALYZE:
%s

Your task:
1. Identify patterns, anomalies, or security/operational issues
2. Assess the severity and potential impact
3. Provide specific, actionable recommendations
4. Consider the broader system context

Respond with ONLY a JSON object in this exact format:
{
    "issue": "Brief description of the identified issue",
    "recommendation": "Specific, actionable steps to address the issue",
    "severity": "low|medium|high|critical",
    "confidence": 0.0-1.0,
    "category": "security|performance|availability|compliance|configuration",
    "affected_systems": ["list", "of", "affected", "systems"],
    "timeline": "immediate|short-term|medium-term|long-term",
    "log_evidence": ["specific log entries that support this analysis"]
}

Focus on:
- Security threats (failed logins, unauthorized access, suspicious patterns)
- System performance issues (high CPU, memory, disk usage)
- Service availability problems (connection failures, timeouts)
- Configuration issues (misconfigurations, deprecated settings)
- Compliance violations (access without proper authentication)

Be concise but specific. If no significant issues are found, indicate low severity.`

// BuildPrompt renders the analysis prompt for context and hits.
func BuildPrompt(context string, hits []model.RetrievalHit) string {
	return fmt.Sprintf(promptTemplate, context, FormatHits(hits))
}

// FormatHits numbers hits from 1 with timestamp, source, similarity and the
// stored document.
func FormatHits(hits []model.RetrievalHit) string {
	blocks := make([]string, len(hits))
	for i, h := range hits {
		blocks[i] = fmt.Sprintf("[%d] Timestamp: %s | Source: %s | Similarity: %.3f\n    Log: %s\n",
			i+1, metaString(h.Metadata, "timestamp"), metaString(h.Metadata, "source"), h.Similarity, h.Document)
	}
	return strings.Join(blocks, "\n")
}

func metaString(md map[string]any, key string) string {
	v, ok := md[key]
	if !ok || v == nil {
		return "unknown"
	}
	return fmt.Sprint(v)
}

// EstimateTokens approximates a token count: whitespace-separated words
// times 1.3, rounded up.
func EstimateTokens(s string) int {
	words := len(strings.Fields(s))
	return int(math.Ceil(float64(words) * 1.3))
}
