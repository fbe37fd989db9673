package auth

import "context"

type subjectKey struct{}

// WithSubject 将已认证的调用方写入上下文，保存的是副本。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	clone := subject.Clone()
	clone.normalise()
	return context.WithValue(ctx, subjectKey{}, clone)
}

// SubjectFromContext 返回上下文中的调用方，不存在时为 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	subject, _ := ctx.Value(subjectKey{}).(*Subject)
	return subject
}

// AuthorizeContext 检查上下文中的调用方能否代表全部 userIDs。
func AuthorizeContext(ctx context.Context, userIDs ...string) error {
	return SubjectFromContext(ctx).Authorize(userIDs...)
}

// SubjectName 返回调用方名称，用于日志；未认证时为空。
func SubjectName(ctx context.Context) string {
	if subject := SubjectFromContext(ctx); subject != nil {
		return subject.Name
	}
	return ""
}
