package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden            ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly    ErrCode = "STUDENT_ACCESS_ONLY"
	ErrInstructorAccessOnly ErrCode = "INSTRUCTOR_ACCESS_ONLY"
	ErrNotAttemptOwner      ErrCode = "NOT_ATTEMPT_OWNER"
	ErrNotExamAuthor        ErrCode = "NOT_EXAM_AUTHOR"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidInput   ErrCode = "INVALID_INPUT"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound     ErrCode = "NOT_FOUND"
	ErrConflict     ErrCode = "CONFLICT"
	ErrInvalidState ErrCode = "INVALID_STATE"

	// ─── Exam & attempt ────────────────────────────────────────────────
	ErrExamNotAvailable    ErrCode = "EXAM_NOT_AVAILABLE"
	ErrMaxAttemptsExceeded ErrCode = "MAX_ATTEMPTS_EXCEEDED"
	ErrNoActiveAttempt     ErrCode = "NO_ACTIVE_ATTEMPT"
	ErrTimeExpired         ErrCode = "TIME_EXPIRED"
	ErrResultsHidden       ErrCode = "RESULTS_HIDDEN"
	ErrExamLocked          ErrCode = "EXAM_LOCKED"
	ErrQuestionLocked      ErrCode = "QUESTION_LOCKED"
	ErrQuestionNotApproved ErrCode = "QUESTION_NOT_APPROVED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrInstructorAccessOnly:
		return "Sumber daya ini terbatas untuk pengajar dan administrator."
	case ErrNotAttemptOwner:
		return "Percobaan ujian ini bukan milik Anda."
	case ErrNotExamAuthor:
		return "Anda bukan pembuat ujian ini."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrInvalidInput:
		return "Masukan tidak sesuai dengan pertanyaan atau ujian."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrConflict:
		return "Sumber daya sudah ada."
	case ErrInvalidState:
		return "Tindakan ini tidak diperbolehkan pada status saat ini."

	// ─── Exam & attempt ────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."
	case ErrMaxAttemptsExceeded:
		return "Batas jumlah percobaan ujian telah tercapai."
	case ErrNoActiveAttempt:
		return "Tidak ada percobaan ujian yang sedang berlangsung."
	case ErrTimeExpired:
		return "Waktu ujian telah habis. Jawaban Anda telah dikumpulkan otomatis."
	case ErrResultsHidden:
		return "Hasil ujian ini tidak ditampilkan."
	case ErrExamLocked:
		return "Ujian sudah memiliki percobaan dan tidak dapat diubah."
	case ErrQuestionLocked:
		return "Pertanyaan sudah digunakan dalam ujian dan tidak dapat diubah."
	case ErrQuestionNotApproved:
		return "Semua pertanyaan harus berstatus APPROVED sebelum ujian dipublikasikan."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
