package tools

import (
	xerrors "Sentellent-Agent/internal/errors"
)

func errCode(err error) xerrors.Code { return xerrors.CodeOf(err) }
