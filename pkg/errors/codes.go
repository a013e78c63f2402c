package errors

import (
	"fmt"
	"net/http"
)

// GenericMessage is shown when the backend reports a code missing from the table.
const GenericMessage = "Đã có lỗi xảy ra, vui lòng thử lại sau"

// Business error codes reported by the marketplace backend in the response envelope.
const (
	CodeUncategorized        = 9999
	CodeInvalidKey           = 1001
	CodeUserExisted          = 1002
	CodeUsernameInvalid      = 1003
	CodePasswordInvalid      = 1004
	CodeUserNotExisted       = 1005
	CodeUnauthenticated      = 1006
	CodeUnauthorized         = 1007
	CodeEmailExisted         = 1008
	CodeProductNotFound      = 2001
	CodeOutOfStock           = 2002
	CodePromotionNotFound    = 2101
	CodePromotionExpired     = 2102
	CodePromotionNotEligible = 2103
	CodeShippingUnavailable  = 2201
	CodeOrderNotFound        = 2301
	CodeOrderCannotCancel    = 2302
	CodeReviewExisted        = 2401
	CodeReviewNotAllowed     = 2402
	CodeNotificationNotFound = 3001
	CodeConversationNotFound = 3101
	CodeMessageNotFound      = 3102
	CodeRecallExpired        = 3103
	CodeFileTooLarge         = 3201
	CodeFileTypeUnsupported  = 3202
)

var businessMessages = map[int]string{
	CodeUncategorized:        GenericMessage,
	CodeInvalidKey:           "Dữ liệu không hợp lệ",
	CodeUserExisted:          "Tài khoản đã tồn tại",
	CodeUsernameInvalid:      "Tên đăng nhập không hợp lệ",
	CodePasswordInvalid:      "Mật khẩu không hợp lệ",
	CodeUserNotExisted:       "Tài khoản không tồn tại",
	CodeUnauthenticated:      "Phiên đăng nhập đã hết hạn, vui lòng đăng nhập lại",
	CodeUnauthorized:         "Bạn không có quyền thực hiện thao tác này",
	CodeEmailExisted:         "Email đã được sử dụng",
	CodeProductNotFound:      "Sản phẩm không tồn tại",
	CodeOutOfStock:           "Sản phẩm đã hết hàng",
	CodePromotionNotFound:    "Khuyến mãi không tồn tại",
	CodePromotionExpired:     "Khuyến mãi đã hết hạn",
	CodePromotionNotEligible: "Đơn hàng không đủ điều kiện áp dụng khuyến mãi",
	CodeShippingUnavailable:  "Không hỗ trợ giao hàng đến địa chỉ này",
	CodeOrderNotFound:        "Đơn hàng không tồn tại",
	CodeOrderCannotCancel:    "Không thể hủy đơn hàng ở trạng thái hiện tại",
	CodeReviewExisted:        "Bạn đã đánh giá sản phẩm này",
	CodeReviewNotAllowed:     "Bạn chỉ có thể đánh giá sản phẩm đã mua",
	CodeNotificationNotFound: "Thông báo không tồn tại",
	CodeConversationNotFound: "Cuộc trò chuyện không tồn tại",
	CodeMessageNotFound:      "Tin nhắn không tồn tại",
	CodeRecallExpired:        "Đã quá thời gian thu hồi tin nhắn",
	CodeFileTooLarge:         "Tệp vượt quá dung lượng cho phép",
	CodeFileTypeUnsupported:  "Định dạng tệp không được hỗ trợ",
}

// MessageForCode returns the localized message for a backend business code.
func MessageForCode(code int) string {
	if msg, ok := businessMessages[code]; ok {
		return msg
	}
	return GenericMessage
}

// KnownCode reports whether the code has a dedicated message.
func KnownCode(code int) bool {
	_, ok := businessMessages[code]
	return ok
}

// FromBusinessCode builds an AppError from a backend business code. The HTTP status
// falls back to 400 when the backend did not provide a failing one.
func FromBusinessCode(code, status int) *AppError {
	switch code {
	case CodeUnauthenticated:
		status = http.StatusUnauthorized
	case CodeUnauthorized:
		status = http.StatusForbidden
	}
	if status < http.StatusBadRequest {
		status = http.StatusBadRequest
	}
	return &AppError{
		Code:       fmt.Sprintf("BUSINESS_%d", code),
		Message:    MessageForCode(code),
		StatusCode: status,
	}
}
