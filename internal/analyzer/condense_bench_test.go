package analyzer

import (
	"strings"
	"testing"
)

// benchmarkContent builds news-like text of roughly size bytes.
func benchmarkContent(size int) string {
	sb := strings.Builder{}
	sb.Grow(size)

	paragraphs := []string{
		"В Алматы ожидается сильный снегопад. Синоптики предупреждают о гололёде на дорогах.",
		"Курс тенге укрепился на утренних торгах. Аналитики связывают это с ростом цен на нефть.",
		"Погода в выходные будет морозной. Температура опустится до минус двадцати градусов.",
		"Городские службы работают в усиленном режиме. Жителей просят не оставлять машины на обочинах.",
		"На перевалах введено ограничение движения. Подробности сообщает департамент полиции.",
	}

	for sb.Len() < size {
		for _, p := range paragraphs {
			sb.WriteString(p)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func BenchmarkCondense_Medium(b *testing.B) {
	content := benchmarkContent(50 * 1024)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		Condense(content, "погода в алматы", 8000)
	}
}

func BenchmarkCondense_Large(b *testing.B) {
	content := benchmarkContent(500 * 1024)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		Condense(content, "погода в алматы", DefaultMaxRunes)
	}
}

func BenchmarkSplitSentences(b *testing.B) {
	content := benchmarkContent(100 * 1024)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		splitSentences(content)
	}
}
